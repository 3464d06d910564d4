// Package wal is an append-only JSON-lines journal. The memory store writes
// every committed transfer through it and replays the file on startup.
package wal

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"
)

const fileMode fs.FileMode = 0644

type WAL struct {
	file *os.File
	mu   sync.Mutex
}

// Open opens or creates the journal at path in append mode.
func Open(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, fileMode)
	if err != nil {
		return nil, err
	}
	return &WAL{file: file}, nil
}

// Write appends one entry and forces it to disk before returning.
func (w *WAL) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := json.NewEncoder(w.file).Encode(v); err != nil {
		return err
	}
	return w.file.Sync()
}

// ReadAll streams every journal entry to callback, oldest first.
func (w *WAL) ReadAll(callback func(raw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	decoder := json.NewDecoder(w.file)
	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if err := callback(raw); err != nil {
			return err
		}
	}
	return nil
}

func (w *WAL) Close() error {
	return w.file.Close()
}
