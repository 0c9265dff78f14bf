package models

// AssetBundle carries the images accompanying a new record. Each field is a
// self-describing data URL ("data:image/png;base64,...").
type AssetBundle struct {
	Main      string   `json:"main"`
	Thumbnail string   `json:"thumbnail,omitempty"`
	Variants  []string `json:"variants,omitempty"`
}

// IsEmpty reports whether the bundle carries no main image.
func (b *AssetBundle) IsEmpty() bool {
	return b == nil || b.Main == ""
}

// Clone returns a copy with an independent variants slice.
func (b *AssetBundle) Clone() *AssetBundle {
	if b == nil {
		return nil
	}
	c := *b
	c.Variants = append([]string(nil), b.Variants...)
	return &c
}
