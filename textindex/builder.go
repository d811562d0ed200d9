package textindex

import (
	"os"

	"github.com/Aman-CERP/segcore/counter"
	segerrors "github.com/Aman-CERP/segcore/errors"
	"github.com/Aman-CERP/segcore/types"
)

// Builder accepts points, tokenizes their text values, and finalizes the
// accumulated index into its durable form. A builder is consumed by
// Finalize and must not be reused.
type Builder struct {
	path      string
	cfg       Config
	tokenizer Tokenizer
	mutable   *MutableInvertedIndex
}

// NewBuilder creates a builder that will finalize under path.
func NewBuilder(path string, cfg Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, segerrors.BuildFailure("config", err)
	}
	return &Builder{
		path:      path,
		cfg:       cfg,
		tokenizer: NewTokenizer(cfg),
		mutable:   NewMutableInvertedIndex(cfg.PhraseMatching),
	}, nil
}

// AddMany tokenizes every value, registers the flattened token stream,
// and indexes the point. In phrase mode the ordered document is retained
// alongside the token set.
func (b *Builder) AddMany(id types.PointOffset, values []string, hw *counter.HardwareCounter) error {
	if len(values) == 0 {
		return nil
	}
	var strTokens []string
	for _, value := range values {
		b.tokenizer.Tokenize(value, func(token string) {
			strTokens = append(strTokens, token)
		})
	}
	ids := b.mutable.RegisterTokens(strTokens)
	if b.cfg.PhraseMatching {
		b.mutable.IndexDocument(id, NewDocument(ids))
	}
	b.mutable.IndexTokens(id, NewTokenSet(ids))
	hw.IncrPayloadIOWrite(4 * len(ids))
	return nil
}

// RemovePoint forwards the removal to the mutable index.
func (b *Builder) RemovePoint(id types.PointOffset) {
	b.mutable.Remove(id)
}

// Finalize converts the accumulator to its immutable form, writes the
// mmap files, and reopens them. On-disk mode exposes the mmap-backed
// index directly; hybrid mode exposes the in-memory immutable index with
// the mmap form attached as its durable storage. Partial files are
// removed when any step fails.
func (b *Builder) Finalize() (*FullTextIndex, error) {
	immutable := FromMutable(b.mutable)
	b.mutable = nil

	if err := CreateMmapIndex(b.path, immutable); err != nil {
		_ = os.RemoveAll(b.path)
		return nil, segerrors.BuildFailure("create", err)
	}

	populate := !b.cfg.OnDisk
	mmapIdx, err := OpenMmapIndex(b.path, populate, b.cfg.PhraseMatching)
	if err != nil {
		_ = os.RemoveAll(b.path)
		return nil, segerrors.BuildFailure("open", err)
	}

	idx := &FullTextIndex{
		cfg:       b.cfg,
		tokenizer: b.tokenizer,
		mmap:      mmapIdx,
	}
	if !b.cfg.OnDisk {
		idx.immutable = immutable
	}
	return idx, nil
}
