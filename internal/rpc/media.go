package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const mediaService = "/media.v1.MediaService/"

// MediaClient calls the media service's object storage API.
type MediaClient struct {
	cc grpc.ClientConnInterface
}

// NewMediaClient creates a MediaClient on cc.
func NewMediaClient(cc grpc.ClientConnInterface) *MediaClient {
	return &MediaClient{cc: cc}
}

func (c *MediaClient) GetImageURL(ctx context.Context, fileKey string) (*FileURL, error) {
	return invoke[FileURL](ctx, c.cc, mediaService+"GetImageUrl", FileKeyRequest{FileKey: fileKey})
}

func (c *MediaClient) UploadAvatar(ctx context.Context, req UploadAvatarRequest) (*FileURL, error) {
	return invoke[FileURL](ctx, c.cc, mediaService+"UploadAvatar", req)
}

func (c *MediaClient) DeleteAvatar(ctx context.Context, fileKey string) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, mediaService+"DeleteAvatar", FileKeyRequest{FileKey: fileKey})
}
