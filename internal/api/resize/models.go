package resize

// ResizeQuery holds the query parameters of GET /resize.
// Width and Height are nil when the parameter is absent.
type ResizeQuery struct {
	ImageURL    string `query:"image_url" validate:"required"`
	Width       *int   `query:"width" validate:"omitempty,gt=0,lt=1024"`
	Height      *int   `query:"height" validate:"omitempty,gt=0,lt=1024"`
	ImageFormat string `query:"image_format" validate:"omitempty,oneof=bmp gif jpeg pdf png tiff webp"`
	ScaleType   string `query:"scale_type" validate:"omitempty,oneof=fit_xy fit_preserve_aspect_ratio crop"`
	// UserAgent is sent to the image host. Defaults to "image-resizer".
	UserAgent string `query:"user_agent"`
}
