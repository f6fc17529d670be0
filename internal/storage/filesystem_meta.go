package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// metaStore keeps what the filesystem cannot: content types, etags, user
// metadata and container metadata.
type metaStore struct {
	db     *badger.DB
	closed chan struct{}
}

type containerRecord struct {
	Created  time.Time         `json:"created"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type blobRecord struct {
	ContentType string            `json:"content_type,omitempty"`
	ETag        string            `json:"etag,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func openMetaStore(dir string) (*metaStore, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(newBadgerLogger(logrus.StandardLogger())).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &metaStore{db: db, closed: make(chan struct{})}
	go s.runGC()
	return s, nil
}

func containerMetaKey(name string) []byte {
	return []byte(fmt.Sprintf("container:%s", name))
}

func blobMetaKey(container, key string) []byte {
	return []byte(fmt.Sprintf("blob:%s:%s", container, key))
}

func blobMetaPrefix(container string) []byte {
	return []byte(fmt.Sprintf("blob:%s:", container))
}

func (s *metaStore) get(key []byte, v interface{}) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *metaStore) put(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *metaStore) delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (s *metaStore) getContainer(name string) (*containerRecord, error) {
	var rec containerRecord
	found, err := s.get(containerMetaKey(name), &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (s *metaStore) putContainer(name string, rec *containerRecord) error {
	return s.put(containerMetaKey(name), rec)
}

func (s *metaStore) getBlob(container, key string) (*blobRecord, error) {
	var rec blobRecord
	found, err := s.get(blobMetaKey(container, key), &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (s *metaStore) putBlob(container, key string, rec *blobRecord) error {
	return s.put(blobMetaKey(container, key), rec)
}

func (s *metaStore) deleteBlob(container, key string) error {
	return s.delete(blobMetaKey(container, key))
}

// dropContainer removes the container record and every blob record under it
func (s *metaStore) dropContainer(name string) error {
	prefix := blobMetaPrefix(name)
	var keys [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	keys = append(keys, containerMetaKey(name))
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (s *metaStore) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logrus.WithError(err).Warn("Failed to run metadata GC")
			}
		}
	}
}

func (s *metaStore) close() error {
	close(s.closed)
	return s.db.Close()
}

// badgerLogger adapts logrus to BadgerDB's logger interface
type badgerLogger struct {
	logger *logrus.Logger
}

func newBadgerLogger(logger *logrus.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Tracef("[BadgerDB] "+format, args...)
}
