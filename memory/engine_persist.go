package memory

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/compact-memory/memory/npy"
)

// File names inside an engine root directory.
const (
	PrototypesFile = "belief_prototypes.json"
	VectorsFile    = "prototype_vectors.npy"
	MemoriesFile   = "raw_memories.jsonl"
	EvidenceFile   = "evidence.jsonl"
	StoreDir       = "vector_store"
)

// stagingSuffix marks files and directories written by a save that has not
// committed yet.
const stagingSuffix = ".staging"

// snapshot is the engine state one save writes.
type snapshot struct {
	dim        int
	prototypes []Prototype
	memories   []RawMemory
	evidence   []Evidence
}

func (e *PrototypeEngine) snapshot() snapshot {
	return snapshot{dim: e.dim, prototypes: e.prototypes, memories: e.memories, evidence: e.evidence}
}

// Save writes the engine state under dir. The JSONL logs only receive the
// records added since the last save to the same dir.
//
// Every file is staged before anything is moved into place, and meta.yaml
// is written last with the committed size of each log. A save that fails
// before that point leaves the previous state readable.
func (e *PrototypeEngine) Save(dir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.saveLocked(dir, e.snapshot())
}

func (e *PrototypeEngine) saveLocked(dir string, snap snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create engine directory", goerr.V("path", dir))
	}

	tx := &saveTx{storeDir: filepath.Join(dir, StoreDir)}
	defer tx.rollback()

	logs := make(map[string]int64, 2)
	var err error
	if logs[MemoriesFile], err = stageLog(tx, e, dir, MemoriesFile, snap.memories, e.persistedMemories); err != nil {
		return err
	}
	if logs[EvidenceFile], err = stageLog(tx, e, dir, EvidenceFile, snap.evidence, e.persistedEvidence); err != nil {
		return err
	}

	staging := tx.storeDir + stagingSuffix
	if err := os.RemoveAll(staging); err != nil {
		return goerr.Wrap(err, "failed to clear store staging directory", goerr.V("path", staging))
	}
	tx.storeStaging = staging
	if err := e.store.Save(staging); err != nil {
		return goerr.Wrap(err, "failed to save vector store", goerr.V("path", dir))
	}

	centroids := make([][]float32, len(snap.prototypes))
	for i, p := range snap.prototypes {
		centroids[i] = p.Centroid
	}
	var vectors bytes.Buffer
	if err := npy.Write(&vectors, centroids, snap.dim); err != nil {
		return err
	}
	if err := tx.stage(filepath.Join(dir, VectorsFile), vectors.Bytes()); err != nil {
		return err
	}
	prototypes, err := json.MarshalIndent(snap.prototypes, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to encode prototypes")
	}
	if err := tx.stage(filepath.Join(dir, PrototypesFile), prototypes); err != nil {
		return err
	}

	now := e.cfg.Clock()
	manifest := &Manifest{
		Version:        FormatVersion,
		EmbeddingModel: e.ref.Name(),
		EmbeddingRef:   refKind(e.ref),
		EmbeddingDim:   snap.dim,
		Normalized:     true,
		CreatedAt:      now,
		UpdatedAt:      now,
		Logs:           logs,
	}
	if e.manifest != nil {
		manifest.CreatedAt = e.manifest.CreatedAt
	}

	if err := tx.commit(); err != nil {
		return err
	}
	if err := WriteManifest(dir, manifest); err != nil {
		return err
	}
	tx.finish()

	if r, ok := e.store.(Relocator); ok {
		r.Relocate(tx.storeDir)
	}
	e.manifest = manifest
	e.savedPath = dir
	e.persistedMemories = len(snap.memories)
	e.persistedEvidence = len(snap.evidence)

	e.logger.Debug("engine saved", "path", dir, "prototypes", len(snap.prototypes), "memories", len(snap.memories))
	return nil
}

// stageLog brings one append-only log up to records. A log already saved
// to dir is cut back to its committed size and appended to in place; bytes
// past the committed size are ignored until meta.yaml records them.
// Otherwise the whole log is staged as a new file. It returns the size to
// commit.
func stageLog[T any](tx *saveTx, e *PrototypeEngine, dir, name string, records []T, persisted int) (int64, error) {
	path := filepath.Join(dir, name)
	if dir == e.savedPath && e.manifest != nil {
		if committed, ok := e.manifest.Logs[name]; ok {
			if err := truncateLog(path, committed); err != nil {
				return 0, err
			}
			if err := AppendJSONL(path, records[persisted:]); err != nil {
				return 0, err
			}
			info, err := os.Stat(path)
			if err != nil {
				return 0, goerr.Wrap(err, "failed to stat jsonl file", goerr.V("path", path))
			}
			return info.Size(), nil
		}
	}

	data, err := encodeJSONL(path, records)
	if err != nil {
		return 0, err
	}
	if err := tx.stage(path, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// saveTx tracks staged files and the staged store directory of one save.
type saveTx struct {
	files        [][2]string // temp name, final path
	storeDir     string
	storeStaging string
	storeOld     string
}

func (tx *saveTx) stage(path string, data []byte) error {
	tmp, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	tx.files = append(tx.files, [2]string{tmp, path})
	return nil
}

// commit moves the staged store and files into place.
func (tx *saveTx) commit() error {
	if tx.storeStaging != "" {
		old := tx.storeDir + ".old"
		if err := os.RemoveAll(old); err != nil {
			return goerr.Wrap(err, "failed to clear previous store directory", goerr.V("path", old))
		}
		if err := os.Rename(tx.storeDir, old); err == nil {
			tx.storeOld = old
		} else if !errors.Is(err, fs.ErrNotExist) {
			return goerr.Wrap(err, "failed to move previous store aside", goerr.V("path", tx.storeDir))
		}
		if err := os.Rename(tx.storeStaging, tx.storeDir); err != nil {
			if tx.storeOld != "" {
				_ = os.Rename(tx.storeOld, tx.storeDir)
				tx.storeOld = ""
			}
			return goerr.Wrap(err, "failed to move staged store into place", goerr.V("path", tx.storeDir))
		}
		tx.storeStaging = ""
	}
	for len(tx.files) > 0 {
		f := tx.files[0]
		if err := os.Rename(f[0], f[1]); err != nil {
			return goerr.Wrap(err, "failed to move staged file into place", goerr.V("path", f[1]))
		}
		tx.files = tx.files[1:]
	}
	return nil
}

// finish drops the previous store once meta.yaml points at the new state.
func (tx *saveTx) finish() {
	if tx.storeOld != "" {
		_ = os.RemoveAll(tx.storeOld)
		tx.storeOld = ""
	}
}

// rollback removes whatever was staged but not committed.
func (tx *saveTx) rollback() {
	for _, f := range tx.files {
		_ = os.Remove(f[0])
	}
	tx.files = nil
	if tx.storeStaging != "" {
		_ = os.RemoveAll(tx.storeStaging)
		tx.storeStaging = ""
	}
}

// Load replaces the engine state with the one saved at dir. meta.yaml is
// read first; an incompatible version stops the load before any other file
// is opened.
func (e *PrototypeEngine) Load(dir string) error {
	manifest, err := ReadManifest(dir)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if manifest.EmbeddingRef == RefInline && e.ref.Persistable() {
		return goerr.Wrap(ErrConfiguration, "engine was saved with an inline embedder, pass it again with Inline",
			goerr.V("model", manifest.EmbeddingModel), goerr.V("path", dir))
	}
	if manifest.EmbeddingModel != e.ref.Name() {
		return goerr.Wrap(ErrConfiguration, "saved engine used a different embedder",
			goerr.V("saved", manifest.EmbeddingModel), goerr.V("configured", e.ref.Name()))
	}
	if want := e.embedder.Dimensions(); want > 0 && manifest.EmbeddingDim > 0 && want != manifest.EmbeddingDim {
		return DimensionError(manifest.EmbeddingDim, want, goerr.V("path", dir))
	}

	var prototypes []Prototype
	if err := ReadJSON(filepath.Join(dir, PrototypesFile), &prototypes); err != nil {
		return err
	}
	centroids, dim, err := npy.ReadFile(filepath.Join(dir, VectorsFile))
	if err != nil {
		return Mark(ErrStorageCorruption, err, "failed to read prototype vectors", goerr.V("path", dir))
	}
	if len(centroids) != len(prototypes) {
		return goerr.Wrap(ErrStorageCorruption, "prototype and vector counts differ",
			goerr.V("prototypes", len(prototypes)), goerr.V("vectors", len(centroids)), goerr.V("path", dir))
	}
	if len(centroids) > 0 && dim != manifest.EmbeddingDim {
		return goerr.Wrap(ErrStorageCorruption, "prototype vector dimension differs from manifest",
			goerr.V("manifest", manifest.EmbeddingDim), goerr.V("vectors", dim))
	}

	memories, err := readLog[RawMemory](dir, MemoriesFile, manifest)
	if err != nil {
		return err
	}
	evidence, err := readLog[Evidence](dir, EvidenceFile, manifest)
	if err != nil {
		return err
	}

	byID := make(map[string]int, len(prototypes))
	members := 0
	for i := range prototypes {
		prototypes[i].Centroid = centroids[i]
		byID[prototypes[i].ID] = i
		members += prototypes[i].MemberCount
	}
	if members != len(memories) {
		return goerr.Wrap(ErrStorageCorruption, "member counts do not add up to stored chunks",
			goerr.V("members", members), goerr.V("memories", len(memories)))
	}
	hashes := make(map[string]string, len(memories))
	for _, m := range memories {
		if _, ok := byID[m.PrototypeID]; !ok {
			return goerr.Wrap(ErrStorageCorruption, "chunk refers to unknown prototype",
				goerr.V("memory", m.ID), goerr.V("prototype", m.PrototypeID))
		}
		hashes[m.ContentHash] = m.ID
	}

	if err := e.store.Load(filepath.Join(dir, StoreDir)); err != nil {
		return goerr.Wrap(err, "failed to load vector store", goerr.V("path", dir))
	}
	if e.store.Count() != len(memories) {
		return goerr.Wrap(ErrStorageCorruption, "vector store and chunk log disagree",
			goerr.V("store", e.store.Count()), goerr.V("memories", len(memories)))
	}

	if manifest.EmbeddingDim > 0 {
		e.dim = manifest.EmbeddingDim
	}
	e.prototypes = prototypes
	e.byID = byID
	e.hashes = hashes
	e.memories = memories
	e.evidence = evidence
	e.manifest = manifest
	e.savedPath = dir
	e.persistedMemories = len(memories)
	e.persistedEvidence = len(evidence)

	e.logger.Info("engine loaded", "path", dir, "prototypes", len(prototypes), "memories", len(memories))
	return nil
}

// readLog reads the committed part of one append-only log.
func readLog[T any](dir, name string, manifest *Manifest) ([]T, error) {
	path := filepath.Join(dir, name)
	if size, ok := manifest.Logs[name]; ok {
		return ReadJSONLPrefix[T](path, size)
	}
	return ReadJSONL[T](path, false)
}
