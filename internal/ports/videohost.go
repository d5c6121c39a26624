package ports

import "context"

// Upload is a slot on the video host that a file can be sent to.
type Upload struct {
	ID  string
	URL string
	// Title is shown by hosts that keep metadata with the video.
	Title string
}

// AssetStatus is the host's view of an uploaded video.
type AssetStatus struct {
	// AssetID is empty until the host has created an asset for the upload.
	AssetID string
	Ready   bool
	// Failed means the host rejected the upload; polling can stop.
	Failed bool
	State  string
}

// VideoHost is the streaming host finished bulletins are published to
// (mux, youtube).
type VideoHost interface {
	Name() string

	CreateUpload(ctx context.Context) (Upload, error)
	// Send pushes the file to the upload and returns the host identifier to
	// poll. For hosts that assign the final id on upload it is that id.
	Send(ctx context.Context, up Upload, path string) (string, error)
	Status(ctx context.Context, id string) (AssetStatus, error)
	EnableDownload(ctx context.Context, assetID string) error
}
