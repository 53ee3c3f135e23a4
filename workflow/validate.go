package workflow

import "strings"

// MaxFileSize is the largest accepted source image, 10 MiB.
const MaxFileSize = 10 * 1024 * 1024

// Validate classifies f without reading it. Rejections are *Error values
// of kind KindInvalidInput.
func Validate(f *File) (*SelectedFile, error) {
	sel, werr := validate(f)
	if werr != nil {
		return nil, werr
	}
	return sel, nil
}

func validate(f *File) (*SelectedFile, *Error) {
	if f == nil {
		return nil, invalidInput("Please select a file")
	}
	if !IsImage(f.MediaType) {
		return nil, invalidInput("Please select a valid image file")
	}
	if f.Size > MaxFileSize {
		return nil, invalidInput("File size must be less than 10MB")
	}
	return &SelectedFile{File: *f}, nil
}

// IsImage reports whether mediaType is of the form image/<subtype>.
func IsImage(mediaType string) bool {
	sub, ok := strings.CutPrefix(mediaType, "image/")
	return ok && sub != ""
}
