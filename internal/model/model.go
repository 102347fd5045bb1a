package model

import (
	"encoding/gob"
)

func InitHashFunction() {
	// Register types for gob serialization
	gob.Register(VerificationStatus(""))
	gob.Register(PhotoMetadata{})
}
