// Package profile contains the built-in build profiles.
package profile

import "sort"

// Profile describes how sources are linked and loaded as a flat image.
type Profile struct {
	// Entry is the linker entry symbol.
	Entry string
	// TextAddr is the text origin the image is linked at; the emulator
	// loads the image and starts execution there.
	TextAddr uint32
	// MaxImageSize caps the linked image size in bytes. 0 means the image
	// only has to fit in guest memory.
	MaxImageSize int64
	// BootSignature pads the image to one sector and appends the 0x55AA
	// boot marker, making it loadable by a PC BIOS.
	BootSignature bool
	// Slug is a unique, short string used on the command line and in
	// x86emu.yaml to refer to this profile.
	Slug string
}

var (
	// Profiles contains a mapping from a descriptive profile name to its
	// definition.
	Profiles = map[string]Profile{
		// The default: whatever the linker produces, loaded at the
		// boot-sector origin.
		"Flat 32-bit image": {
			Entry:    "start",
			TextAddr: 0x7c00,
			Slug:     "flat",
		},
		// A real boot sector: code must fit in 510 bytes so the
		// signature lands in bytes 510-511.
		"BIOS boot sector": {
			Entry:         "start",
			TextAddr:      0x7c00,
			MaxImageSize:  510,
			BootSignature: true,
			Slug:          "bootsector",
		},
	}
)

func GetProfileBySlug(slug string) (Profile, bool) {
	for _, p := range Profiles {
		if p.Slug == slug {
			return p, true
		}
	}

	return Profile{}, false
}

// Slugs returns the known profile slugs, sorted, for usage strings.
func Slugs() []string {
	var slugs []string
	for _, p := range Profiles {
		slugs = append(slugs, p.Slug)
	}
	sort.Strings(slugs)
	return slugs
}
