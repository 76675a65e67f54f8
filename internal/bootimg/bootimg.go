// Package bootimg finalizes and inspects flat boot images.
package bootimg

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	SectorSize = 512
	// codeBytes is how much of a boot sector the code may occupy; the
	// final two bytes hold the signature.
	codeBytes = SectorSize - 2
)

// bootSignature is the marker a PC BIOS requires in bytes 510-511 of a boot
// sector, 0x55 0xAA on disk.
const bootSignature uint16 = 0xAA55

type countingWriter int64

func (cw *countingWriter) Write(p []byte) (n int, err error) {
	*cw += countingWriter(len(p))
	return len(p), nil
}

type paddingWriter struct {
	w     io.Writer
	count int
	padTo int
}

func (pw *paddingWriter) Write(p []byte) (n int, err error) {
	pw.count += len(p)
	return pw.w.Write(p)
}

func (pw *paddingWriter) Flush() error {
	if pw.count%pw.padTo == 0 {
		return nil
	}
	remainder := pw.padTo - (pw.count % pw.padTo)
	pw.count += remainder
	_, err := pw.w.Write(make([]byte, remainder))
	return err
}

// Finish writes image to w as a BIOS-loadable boot sector: the code padded
// to 510 bytes, followed by the boot signature. It returns the number of
// bytes written, always SectorSize on success.
func Finish(w io.Writer, image []byte) (int64, error) {
	if len(image) == 0 {
		return 0, fmt.Errorf("empty image")
	}
	if len(image) > codeBytes {
		return 0, fmt.Errorf("image is %d bytes, must fit in %d to leave room for the boot signature", len(image), codeBytes)
	}
	var cw countingWriter
	out := io.MultiWriter(w, &cw)
	pw := &paddingWriter{w: out, padTo: codeBytes}
	if _, err := pw.Write(image); err != nil {
		return int64(cw), err
	}
	if err := pw.Flush(); err != nil {
		return int64(cw), err
	}
	if err := binary.Write(out, binary.LittleEndian, bootSignature); err != nil {
		return int64(cw), err
	}
	return int64(cw), nil
}

// Info describes a flat image on disk.
type Info struct {
	Size          int64
	BootSignature bool
}

// Inspect reports the image size and whether the first sector carries the
// boot signature.
func Inspect(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	info := &Info{Size: st.Size()}
	if st.Size() >= SectorSize {
		var sig uint16
		if _, err := f.Seek(codeBytes, io.SeekStart); err != nil {
			return nil, err
		}
		if err := binary.Read(f, binary.LittleEndian, &sig); err != nil {
			return nil, fmt.Errorf("reading boot signature: %w", err)
		}
		info.BootSignature = sig == bootSignature
	}
	return info, nil
}
