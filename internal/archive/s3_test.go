package archive

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3API struct {
	body  string
	err   error
	input *s3.GetObjectInput
}

func (m *mockS3API) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(m.body))}, nil
}

func TestSDKClient_GetObject(t *testing.T) {
	api := &mockS3API{body: `{"zarr_format": 2}`}
	client := NewSDKClient(api)

	body, err := client.GetObject(context.Background(), "archive", "chirps.zarr/.zgroup")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, `{"zarr_format": 2}`, string(data))
	assert.Equal(t, "archive", aws.ToString(api.input.Bucket))
	assert.Equal(t, "chirps.zarr/.zgroup", aws.ToString(api.input.Key))
}

func TestSDKClient_NotFoundMapping(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantNotFound bool
	}{
		{name: "typed NoSuchKey", err: &s3types.NoSuchKey{}, wantNotFound: true},
		{name: "generic NotFound", err: &smithy.GenericAPIError{Code: "NotFound"}, wantNotFound: true},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDenied"}},
		{name: "network", err: errors.New("dial tcp: i/o timeout")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewSDKClient(&mockS3API{err: tt.err})
			_, err := client.GetObject(context.Background(), "archive", "chirps.zarr/precip/0.0.0")
			require.Error(t, err)
			assert.Equal(t, tt.wantNotFound, errors.Is(err, ErrObjectNotFound))
		})
	}
}
