package media

import "github.com/iliyamo/time-capsule/internal/model"

// Photo is a selected image before upload.
type Photo struct {
	Name        string
	ContentType string
	Data        []byte
}

// Selection is the ordered set of photos picked for a capsule.
type Selection struct {
	photos []Photo
}

// Add appends photos in order.  If the batch would push the selection past
// model.MaxPhotos the whole batch is rejected and nothing is added.
func (s *Selection) Add(photos ...Photo) error {
	if len(s.photos)+len(photos) > model.MaxPhotos {
		return ErrCapacityExceeded
	}
	s.photos = append(s.photos, photos...)
	return nil
}

// Remove drops the photo at index i; out of range indexes are ignored.
func (s *Selection) Remove(i int) {
	if i < 0 || i >= len(s.photos) {
		return
	}
	s.photos = append(s.photos[:i:i], s.photos[i+1:]...)
}

func (s *Selection) Len() int { return len(s.photos) }

// Photos returns a copy of the selection in order.
func (s *Selection) Photos() []Photo {
	out := make([]Photo, len(s.photos))
	copy(out, s.photos)
	return out
}
