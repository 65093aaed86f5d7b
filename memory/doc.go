// Package memory provides prototype-based memory consolidation.
//
// Ingested text is split into chunks, deduplicated by content hash, embedded
// and placed: a chunk close enough to an existing prototype joins it (the
// prototype centroid becomes the normalized mean of its members), any other
// chunk founds a new prototype. Every placement leaves an evidence record.
//
// Architecture:
//   - VectorStore: chunk vectors and texts (memstore in memory, chromem on disk)
//   - Embedder: text-to-vector conversion (mock, onnx, cached decorator)
//   - PrototypeEngine: ingest, recall, compress, save and load
//
// Storage layout under an engine root:
//
//	meta.yaml                 version, embedding model, dimension, timestamps
//	belief_prototypes.json    prototype metadata without vectors
//	prototype_vectors.npy     centroids, row-aligned with the JSON
//	raw_memories.jsonl        append-only chunk log
//	evidence.jsonl            append-only placement log
//	vector_store/             the VectorStore's own files
package memory
