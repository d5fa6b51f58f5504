package keypager

import (
	"encoding/base64"

	"gorm.io/gorm"
)

var _encoder = base64.RawURLEncoding

// Cursor is an opaque, stateless resume position inside an ordered dataset.
// A cursor decodes to the same logical position regardless of concurrent
// mutations elsewhere in the dataset.
type Cursor interface {
	String() string
	IsEmpty() bool
	Apply(*gorm.DB) *gorm.DB
	validate(orderings Orderings) error
}
