// Package filename encodes and parses the naming convention shared with the
// detection worker:
//
//	machineid_timestamp_imageid.jpg                      original upload
//	machineid_timestamp_imageid_class_particleid.jpg     cropped particle
//
// The timestamp is Unix milliseconds.
package filename

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidFormat = errors.New("invalid filename format")

type Kind string

const (
	KindOriginal Kind = "original"
	KindParticle Kind = "particle"
)

type Name struct {
	Kind          Kind
	MachineID     string
	Timestamp     time.Time
	ImageID       string
	ParticleClass string
	ParticleID    string
}

// Encode builds the filename for an original upload.
func Encode(machineID string, t time.Time, imageID string) string {
	return fmt.Sprintf("%s_%d_%s.jpg", machineID, t.UnixMilli(), imageID)
}

// EncodeParticle builds the filename for one particle cropped from an image.
func EncodeParticle(machineID string, t time.Time, imageID, class, particleID string) string {
	return fmt.Sprintf("%s_%d_%s_%s_%s.jpg", machineID, t.UnixMilli(), imageID, class, particleID)
}

// Parse splits a filename into its convention parts. Directory components
// are ignored.
func Parse(name string) (Name, error) {
	base := path.Base(name)
	parts := strings.Split(base, "_")
	if len(parts) != 3 && len(parts) != 5 {
		return Name{}, fmt.Errorf("%w: %q has %d parts", ErrInvalidFormat, base, len(parts))
	}

	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Name{}, fmt.Errorf("%w: timestamp %q", ErrInvalidFormat, parts[1])
	}
	if parts[0] == "" {
		return Name{}, fmt.Errorf("%w: empty machine id", ErrInvalidFormat)
	}

	n := Name{
		MachineID: parts[0],
		Timestamp: time.UnixMilli(ms).UTC(),
	}
	if len(parts) == 3 {
		n.Kind = KindOriginal
		n.ImageID = stripExt(parts[2])
		return n, nil
	}
	n.Kind = KindParticle
	n.ImageID = parts[2]
	n.ParticleClass = parts[3]
	n.ParticleID = stripExt(parts[4])
	return n, nil
}

func stripExt(s string) string {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}
