// Package snapshot implements the whole-database binary persistence format:
// a single fixed-layout file holding every collection's scalar attributes
// and its full embedding list, written via a temp-sibling-file-plus-rename
// so a crash mid-write can never leave a torn snapshot on disk.
//
// Layout (little-endian throughout, version 1):
//
//	magic      [4]byte  "VDB1"
//	version    uint32
//	numCollections uint32
//	for each collection:
//	  nameLen  uint32
//	  name     []byte
//	  dimension uint32
//	  distance  uint8    (0=euclidean, 1=cosine, 2=dot)
//	  numEmbeddings uint32
//	  for each embedding:
//	    idLen    uint32
//	    id       []byte
//	    vector   [dimension]float32
//	    numMeta  uint32
//	    for each metadata pair:
//	      keyLen   uint32
//	      key      []byte
//	      valueLen uint32
//	      value    []byte
//
// Loading a corrupt or unrecognized file is treated as fatal at startup;
// a save failure after a successful mutation is logged and swallowed so
// the in-memory state remains authoritative for the life of the process.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cianyyz/vectordb/pkg/collection"
	"github.com/cianyyz/vectordb/pkg/distance"
)

var magic = [4]byte{'V', 'D', 'B', '1'}

const formatVersion = 1

// ErrCorrupt is returned by Load when the file's magic bytes or structure
// don't match the expected format.
var ErrCorrupt = errors.New("snapshot: corrupt or unrecognized file")

var metricCodes = map[distance.Metric]uint8{
	distance.Euclidean: 0,
	distance.Cosine:    1,
	distance.Dot:       2,
}

var metricsByCode = map[uint8]distance.Metric{
	0: distance.Euclidean,
	1: distance.Cosine,
	2: distance.Dot,
}

// Store persists a database's collections to a single file at Path.
type Store struct {
	Path string
}

// NewStore creates a Store writing to path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load reads the database from Store.Path. If the path doesn't exist, the
// parent directory is created and an empty map is returned, giving a fresh
// deployment an empty database rather than an error. A decode failure on an
// existing file is returned as an error; callers (pkg/vectordb.Open) treat
// this as fatal at startup.
func (s *Store) Load() (map[string]*collection.Collection, error) {
	f, err := os.Open(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
			return nil, fmt.Errorf("snapshot: creating store directory: %w", err)
		}
		return make(map[string]*collection.Collection), nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: opening store: %w", err)
	}
	defer f.Close()

	return decode(bufio.NewReader(f))
}

// Save writes collections to a temp sibling of Store.Path and atomically
// renames it into place, so a process crash mid-write never corrupts the
// existing snapshot. Save is best-effort: callers are expected to log a
// returned error and continue rather than fail the mutation that
// triggered it.
func (s *Store) Save(collections map[string]*collection.Collection) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: creating store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("snapshot: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed away

	w := bufio.NewWriter(tmp)
	if err := encode(w, collections); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: encoding: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: flushing: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: syncing: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("snapshot: renaming into place: %w", err)
	}
	return nil
}

func encode(w io.Writer, collections map[string]*collection.Collection) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(formatVersion)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(collections))); err != nil {
		return err
	}
	for name, c := range collections {
		if err := writeString(w, name); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(c.Dimension)); err != nil {
			return err
		}
		code, ok := metricCodes[c.Distance]
		if !ok {
			return fmt.Errorf("snapshot: unknown metric %q", c.Distance)
		}
		if err := binary.Write(w, binary.LittleEndian, code); err != nil {
			return err
		}

		embeddings := c.All()
		if err := binary.Write(w, binary.LittleEndian, uint32(len(embeddings))); err != nil {
			return err
		}
		for _, e := range embeddings {
			if err := writeString(w, e.ID); err != nil {
				return err
			}
			for _, v := range e.Vector {
				if err := binary.Write(w, binary.LittleEndian, v); err != nil {
					return err
				}
			}
			if err := binary.Write(w, binary.LittleEndian, uint32(len(e.Metadata))); err != nil {
				return err
			}
			for k, v := range e.Metadata {
				if err := writeString(w, k); err != nil {
					return err
				}
				if err := writeString(w, v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func decode(r io.Reader) (map[string]*collection.Collection, error) {
	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if gotMagic != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}

	var numCollections uint32
	if err := binary.Read(r, binary.LittleEndian, &numCollections); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	out := make(map[string]*collection.Collection, numCollections)
	for i := uint32(0); i < numCollections; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		var dimension uint32
		if err := binary.Read(r, binary.LittleEndian, &dimension); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		var code uint8
		if err := binary.Read(r, binary.LittleEndian, &code); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		metric, ok := metricsByCode[code]
		if !ok {
			return nil, fmt.Errorf("%w: unknown metric code %d", ErrCorrupt, code)
		}

		var numEmbeddings uint32
		if err := binary.Read(r, binary.LittleEndian, &numEmbeddings); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		embeddings := make([]collection.Embedding, numEmbeddings)
		for j := uint32(0); j < numEmbeddings; j++ {
			id, err := readString(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			vector := make([]float32, dimension)
			if err := binary.Read(r, binary.LittleEndian, &vector); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			var numMeta uint32
			if err := binary.Read(r, binary.LittleEndian, &numMeta); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			var metadata map[string]string
			if numMeta > 0 {
				metadata = make(map[string]string, numMeta)
				for m := uint32(0); m < numMeta; m++ {
					k, err := readString(r)
					if err != nil {
						return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
					}
					v, err := readString(r)
					if err != nil {
						return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
					}
					metadata[k] = v
				}
			}
			embeddings[j] = collection.Embedding{ID: id, Vector: vector, Metadata: metadata}
		}

		out[name] = collection.Restore(int(dimension), metric, embeddings)
	}
	return out, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
