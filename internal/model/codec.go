package model

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Artifact files start with a four byte magic and a format version.
const (
	artifactMagic   = "MDLA"
	artifactVersion = byte(1)
)

var (
	errBadMagic   = errors.New("not a model artifact")
	errBadVersion = errors.New("unsupported artifact version")
)

func encode(w io.Writer, v any) error {
	if _, err := io.WriteString(w, artifactMagic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{artifactVersion}); err != nil {
		return err
	}
	return gob.NewEncoder(w).Encode(v)
}

func decode(r io.Reader, v any) error {
	header := make([]byte, len(artifactMagic)+1)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(header[:len(artifactMagic)], []byte(artifactMagic)) {
		return errBadMagic
	}
	if header[len(artifactMagic)] != artifactVersion {
		return fmt.Errorf("%w %d", errBadVersion, header[len(artifactMagic)])
	}
	return gob.NewDecoder(r).Decode(v)
}

// writeFile encodes v into path through a temp file in the same directory.
func writeFile(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := encode(bw, v); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func readFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return decode(bufio.NewReader(f), v)
}
