package vfs

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
)

// recordKind tags each record appended to a .hfs file so Store can rebuild
// its indices by replaying the file from the start (spec §6 "persisted
// state" — a single per-app content store file surviving restarts).
type recordKind byte

const (
	kindBlob      recordKind = 1
	kindPathEntry recordKind = 2
)

type blobLoc struct {
	offset int64
	length int64
}

// Store is the per-app content-addressed blob store backing the VFS's
// writable mounts (tmp/, etc/) and the ipfs/ overlay's cache, grounded on
// the teacher's packageStorage in system/runtime/runtime.go (an isolated,
// quota-tracked KV per package) generalized to path-indexed, content-hashed
// blobs with file-backed persistence instead of an in-process map.
type Store struct {
	mu    sync.Mutex
	file  *os.File
	blobs map[string]blobLoc // sha256 hex -> location of its value in file
	paths map[string]string  // vfs path -> sha256 hex (last write wins)
}

// OpenStore opens (creating if absent) the .hfs file at path and replays it
// to rebuild the in-memory index.
func OpenStore(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening content store %s: %w", path, err)
	}

	s := &Store{file: f, blobs: map[string]blobLoc{}, paths: map[string]string{}}
	if err := s.replay(); err != nil {
		f.Close()
		return nil, fmt.Errorf("replaying content store %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) replay() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	var offset int64
	header := make([]byte, 9) // kind(1) + keyLen(4) + valLen(4)
	for {
		if _, err := io.ReadFull(s.file, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return err
		}
		kind := recordKind(header[0])
		keyLen := binary.BigEndian.Uint32(header[1:5])
		valLen := binary.BigEndian.Uint32(header[5:9])

		key := make([]byte, keyLen)
		if _, err := io.ReadFull(s.file, key); err != nil {
			return err
		}
		valOffset := offset + int64(len(header)) + int64(keyLen)

		val := make([]byte, valLen)
		if _, err := io.ReadFull(s.file, val); err != nil {
			return err
		}

		switch kind {
		case kindBlob:
			s.blobs[string(key)] = blobLoc{offset: valOffset, length: int64(valLen)}
		case kindPathEntry:
			s.paths[string(key)] = string(val)
		}

		offset = valOffset + int64(valLen)
	}

	_, err := s.file.Seek(0, io.SeekEnd)
	return err
}

func (s *Store) append(kind recordKind, key, val []byte) (int64, error) {
	header := make([]byte, 9)
	header[0] = byte(kind)
	binary.BigEndian.PutUint32(header[1:5], uint32(len(key)))
	binary.BigEndian.PutUint32(header[5:9], uint32(len(val)))

	pos, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := s.file.Write(header); err != nil {
		return 0, err
	}
	if _, err := s.file.Write(key); err != nil {
		return 0, err
	}
	valOffset := pos + int64(len(header)) + int64(len(key))
	if _, err := s.file.Write(val); err != nil {
		return 0, err
	}
	return valOffset, nil
}

// PutPath stores content under path, content-addressing the blob by its
// sha256 hash. Writing the same content twice reuses the existing blob
// record; only the path->hash mapping is appended.
func (s *Store) PutPath(path string, content []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	if _, ok := s.blobs[hash]; !ok {
		valOffset, err := s.append(kindBlob, []byte(hash), content)
		if err != nil {
			return "", err
		}
		s.blobs[hash] = blobLoc{offset: valOffset, length: int64(len(content))}
	}

	if _, err := s.append(kindPathEntry, []byte(path), []byte(hash)); err != nil {
		return "", err
	}
	s.paths[path] = hash

	return hash, nil
}

// PutContent stores content keyed only by its sha256 hash, with no path
// entry.
func (s *Store) PutContent(content []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	if _, ok := s.blobs[hash]; ok {
		return hash, nil
	}
	valOffset, err := s.append(kindBlob, []byte(hash), content)
	if err != nil {
		return "", err
	}
	s.blobs[hash] = blobLoc{offset: valOffset, length: int64(len(content))}
	return hash, nil
}

// GetPath returns the current content at path, if any.
func (s *Store) GetPath(path string) ([]byte, bool, error) {
	s.mu.Lock()
	hash, ok := s.paths[path]
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	content, err := s.getByHash(hash)
	return content, true, err
}

// GetByHash returns blob content addressed directly by its sha256 hash.
func (s *Store) GetByHash(hash string) ([]byte, bool, error) {
	content, err := s.getByHash(hash)
	if err != nil {
		return nil, false, err
	}
	return content, content != nil, nil
}

func (s *Store) getByHash(hash string) ([]byte, error) {
	s.mu.Lock()
	loc, ok := s.blobs[hash]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	buf := make([]byte, loc.length)
	if _, err := s.file.ReadAt(buf, loc.offset); err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", hash, err)
	}
	return buf, nil
}

// ListPrefix returns every known path with the given prefix.
func (s *Store) ListPrefix(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for p := range s.paths {
		if hasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Close closes the underlying file.
func (s *Store) Close() error {
	return s.file.Close()
}
