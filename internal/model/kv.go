package model

import (
	"bytes"
	"encoding/gob"
	"errors"
	"time"
)

var errorValueEmpty = errors.New("value is empty")

// KeyValue - small persisted values next to the verification records, such as
// cached geocode results. The value is a gob-encoded byte array so any type
// can be stored.
type KeyValue struct {
	// Key-value fields
	Key   string `hash:"x" gorm:"primaryKey"`
	Value []byte `hash:"x" json:"value"`

	// Meta fields
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"` // Time when the value was last updated.
}

// TableName - set the table name
func (KeyValue) TableName() string {
	return "kv"
}

// Set the value to the key-value pair
func (kv *KeyValue) SetValue(value interface{}) error {
	var buffer bytes.Buffer

	enc := gob.NewEncoder(&buffer)
	if err := enc.Encode(value); err != nil {
		return err
	}

	kv.Value = buffer.Bytes()

	return nil
}

// Get the value from the key-value pair
func (kv *KeyValue) GetValue(out interface{}) error {
	if len(kv.Value) == 0 {
		return errorValueEmpty
	}

	dec := gob.NewDecoder(bytes.NewBuffer(kv.Value))

	return dec.Decode(out)
}
