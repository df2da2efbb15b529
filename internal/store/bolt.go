package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/mossy-p/jam-signaling/internal/models"
)

var (
	musiciansBucket = []byte("musicians")
	bandsBucket     = []byte("bands")
	sessionsBucket  = []byte("sessions")
)

// Bolt stores records in a single bbolt file, one bucket per kind.
type Bolt struct {
	db *bolt.DB
}

func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt file %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{musiciansBucket, bandsBucket, sessionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create buckets")
	}
	return &Bolt{db: db}, nil
}

func boltKey(id int32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, uint32(id))
	return key
}

func (b *Bolt) get(bucket []byte, id int32, v any) error {
	return b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get(boltKey(id))
		if data == nil {
			return ErrNotFound
		}
		return errors.Wrapf(json.Unmarshal(data, v), "decode %s %d", bucket, id)
	})
}

func (b *Bolt) put(bucket []byte, id int32, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s %d", bucket, id)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(boltKey(id), data)
	})
}

func (b *Bolt) GetMusician(_ context.Context, id int32) (*models.Musician, error) {
	var m models.Musician
	if err := b.get(musiciansBucket, id, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (b *Bolt) PutMusician(_ context.Context, m *models.Musician) error {
	return b.put(musiciansBucket, m.ID, m)
}

func (b *Bolt) GetBand(_ context.Context, id int32) (*models.Band, error) {
	var band models.Band
	if err := b.get(bandsBucket, id, &band); err != nil {
		return nil, err
	}
	return &band, nil
}

func (b *Bolt) PutBand(_ context.Context, band *models.Band) error {
	return b.put(bandsBucket, band.ID, band)
}

func (b *Bolt) GetSession(_ context.Context, id int32) (*models.Session, error) {
	var s models.Session
	if err := b.get(sessionsBucket, id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *Bolt) PutSession(_ context.Context, s *models.Session) error {
	return b.put(sessionsBucket, s.ID, s)
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
