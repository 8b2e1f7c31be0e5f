package numbering

import (
	"context"
	"sync"
	"time"
)

type formatKey struct {
	bu  int64
	cat int64
}

// memoryRepo emulates row locking: a key stays locked until the owning transaction ends.
type memoryRepo struct {
	mu       sync.Mutex
	formats  map[formatKey]Format
	locks    map[formatKey]*sync.Mutex
	nextID   int64
	buCodes  map[int64]string
	catCodes map[int64]string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		formats:  make(map[formatKey]Format),
		locks:    make(map[formatKey]*sync.Mutex),
		buCodes:  map[int64]string{1: "001"},
		catCodes: map[int64]string{1: "DOM", 2: "EXP"},
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	tx := &memoryTx{repo: m, held: make(map[formatKey]*sync.Mutex), pending: make(map[formatKey]Format)}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.mu.Lock()
	for k, f := range tx.pending {
		m.formats[k] = f
	}
	m.mu.Unlock()
	return nil
}

func (m *memoryRepo) GetFormat(_ context.Context, bu, cat int64) (Format, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.formats[formatKey{bu, cat}]
	if !ok {
		return Format{}, ErrFormatNotFound
	}
	return f, nil
}

func (m *memoryRepo) UpsertFormat(_ context.Context, f Format) (Format, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := formatKey{f.BusinessUnitID, f.SalesCategoryID}
	if existing, ok := m.formats[k]; ok {
		f.ID = existing.ID
		f.LastUsedSequentialNumber = existing.LastUsedSequentialNumber
		f.CreatedAt = existing.CreatedAt
	} else {
		m.nextID++
		f.ID = m.nextID
		f.CreatedAt = f.LastModifiedAt
	}
	m.formats[k] = f
	return f, nil
}

func (m *memoryRepo) LockFormat(ctx context.Context, bu, cat int64) (Format, error) {
	var f Format
	err := m.WithTx(ctx, func(ctx context.Context, s Store) error {
		var err error
		f, err = s.LockFormat(ctx, bu, cat)
		return err
	})
	return f, err
}

func (m *memoryRepo) InsertFormat(ctx context.Context, f Format) (Format, error) {
	var created Format
	err := m.WithTx(ctx, func(ctx context.Context, s Store) error {
		var err error
		created, err = s.InsertFormat(ctx, f)
		return err
	})
	return created, err
}

func (m *memoryRepo) SaveCounter(ctx context.Context, id, last int64, at time.Time) error {
	return m.WithTx(ctx, func(ctx context.Context, s Store) error {
		return s.SaveCounter(ctx, id, last, at)
	})
}

func (m *memoryRepo) BusinessUnitCode(_ context.Context, bu int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buCodes[bu], nil
}

func (m *memoryRepo) SalesCategoryCode(_ context.Context, cat int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.catCodes[cat], nil
}

func (m *memoryRepo) counter(bu, cat int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.formats[formatKey{bu, cat}].LastUsedSequentialNumber
}

type memoryTx struct {
	repo    *memoryRepo
	held    map[formatKey]*sync.Mutex
	pending map[formatKey]Format
}

func (tx *memoryTx) acquire(k formatKey) {
	if _, ok := tx.held[k]; ok {
		return
	}
	tx.repo.mu.Lock()
	l, ok := tx.repo.locks[k]
	if !ok {
		l = &sync.Mutex{}
		tx.repo.locks[k] = l
	}
	tx.repo.mu.Unlock()
	l.Lock()
	tx.held[k] = l
}

func (tx *memoryTx) release() {
	for _, l := range tx.held {
		l.Unlock()
	}
}

func (tx *memoryTx) lookup(k formatKey) (Format, bool) {
	if f, ok := tx.pending[k]; ok {
		return f, true
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	f, ok := tx.repo.formats[k]
	return f, ok
}

func (tx *memoryTx) LockFormat(_ context.Context, bu, cat int64) (Format, error) {
	k := formatKey{bu, cat}
	tx.acquire(k)
	f, ok := tx.lookup(k)
	if !ok {
		return Format{}, ErrFormatNotFound
	}
	return f, nil
}

func (tx *memoryTx) InsertFormat(_ context.Context, f Format) (Format, error) {
	k := formatKey{f.BusinessUnitID, f.SalesCategoryID}
	tx.acquire(k)
	if _, ok := tx.lookup(k); ok {
		return Format{}, ErrFormatExists
	}
	tx.repo.mu.Lock()
	tx.repo.nextID++
	f.ID = tx.repo.nextID
	tx.repo.mu.Unlock()
	tx.pending[k] = f
	return f, nil
}

func (tx *memoryTx) SaveCounter(_ context.Context, id, last int64, at time.Time) error {
	for k, f := range tx.pending {
		if f.ID == id {
			f.LastUsedSequentialNumber = last
			f.LastModifiedAt = at
			tx.pending[k] = f
			return nil
		}
	}
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for k, f := range tx.repo.formats {
		if f.ID == id {
			f.LastUsedSequentialNumber = last
			f.LastModifiedAt = at
			tx.pending[k] = f
			return nil
		}
	}
	return ErrFormatNotFound
}

func (tx *memoryTx) BusinessUnitCode(ctx context.Context, bu int64) (string, error) {
	return tx.repo.BusinessUnitCode(ctx, bu)
}

func (tx *memoryTx) SalesCategoryCode(ctx context.Context, cat int64) (string, error) {
	return tx.repo.SalesCategoryCode(ctx, cat)
}
