// Whole-file serialize/parse, behind Engine.Read, Engine.Write and the
// initial-creation path, Engine.Create. Partial I/O does not use it; it
// reads and writes whole files through byteIO directly.
package ddb

import (
	"fmt"

	json "github.com/goccy/go-json"
)

type fullIO struct {
	name string
	cfg  Config
	bio  byteIO
}

func newFullIO(name string, cfg Config, bio byteIO) fullIO {
	return fullIO{name: name, cfg: cfg, bio: bio}
}

// read decodes the entire database into v.
func (f fullIO) read(v any) error {
	data, err := f.bio.Read(f.name)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// readRaw returns the entire database's undecoded bytes.
func (f fullIO) readRaw() ([]byte, error) {
	return f.bio.Read(f.name)
}

// write serializes value and replaces the whole file, letting byteIO
// handle removing the other on-disk form after success.
func (f fullIO) write(value any) error {
	data, err := f.marshal(value)
	if err != nil {
		return err
	}
	return f.bio.Write(f.name, data, f.cfg.UseCompression)
}

func (f fullIO) marshal(value any) ([]byte, error) {
	var data []byte
	var err error
	switch indent := f.cfg.indentUnit(); indent {
	case "":
		data, err = json.Marshal(value)
	default:
		data, err = json.MarshalIndent(value, "", indent)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return data, nil
}
