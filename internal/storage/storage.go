// Package storage implements the multi-curve share store: one embedded
// key-value database with a logical column family per (curve, record
// kind) pair, realized as go.etcd.io/bbolt buckets.
package storage

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/openmatching/frost-custody/internal/curve"
)

var curveTags = []curve.Tag{curve.Secp256k1Taproot, curve.Secp256k1Ecdsa, curve.Ed25519}

func bucketNames(tag curve.Tag) (keys, pubkeys string) {
	switch tag {
	case curve.Secp256k1Taproot:
		return "secp256k1_tr_keys", "secp256k1_tr_pubkeys"
	case curve.Secp256k1Ecdsa:
		return "secp256k1_keys", "secp256k1_pubkeys"
	case curve.Ed25519:
		return "ed25519_keys", "ed25519_pubkeys"
	default:
		return "", ""
	}
}

// Encryptor optionally wraps stored values at rest. When nil, values
// are stored as plain CBOR.
type Encryptor interface {
	Seal(passphrase string, plaintext []byte) ([]byte, error)
	Open(passphrase string, ciphertext []byte) ([]byte, error)
}

// Store is the multi-curve share store for one node.
type Store struct {
	db  *bbolt.DB
	enc Encryptor
	log *zap.SugaredLogger
}

// Open creates or opens the bbolt database at path and ensures every
// curve's buckets exist.
func Open(path string, enc Encryptor, log *zap.SugaredLogger) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, tag := range curveTags {
			keys, pubkeys := bucketNames(tag)
			if _, err := tx.CreateBucketIfNotExists([]byte(keys)); err != nil {
				return err
			}
			if _, err := tx.CreateBucketIfNotExists([]byte(pubkeys)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init buckets: %w", err)
	}
	return &Store{db: db, enc: enc, log: log}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func keyPackageKey(passphrase string) []byte   { return []byte("keypackage:" + passphrase) }
func pubkeyPackageKey(passphrase string) []byte { return []byte("pubkeypackage:" + passphrase) }

// StoreKeyPackage persists a node's key package. A key package is
// written once per (curve, passphrase); an overwrite of an existing one
// indicates a DKG re-run and is logged rather than rejected, so an
// operator-initiated re-keying stays possible.
func (s *Store) StoreKeyPackage(tag curve.Tag, passphrase string, kp curve.KeyPackage) error {
	raw, err := kp.MarshalCBOR()
	if err != nil {
		return fmt.Errorf("storage: encode key package: %w", err)
	}
	return s.put(tag, true, passphrase, raw, "key_package")
}

func (s *Store) GetKeyPackage(tag curve.Tag, passphrase string) (curve.KeyPackage, bool, error) {
	raw, ok, err := s.get(tag, true, passphrase)
	if err != nil || !ok {
		return curve.KeyPackage{}, ok, err
	}
	kp, err := curve.UnmarshalKeyPackage(raw)
	if err != nil {
		return curve.KeyPackage{}, false, fmt.Errorf("storage: decode key package: %w", err)
	}
	return kp, true, nil
}

func (s *Store) StorePubkeyPackage(tag curve.Tag, passphrase string, pkp curve.PublicKeyPackage) error {
	raw, err := pkp.MarshalCBOR()
	if err != nil {
		return fmt.Errorf("storage: encode pubkey package: %w", err)
	}
	return s.put(tag, false, passphrase, raw, "pubkey_package")
}

func (s *Store) GetPubkeyPackage(tag curve.Tag, passphrase string) (curve.PublicKeyPackage, bool, error) {
	raw, ok, err := s.get(tag, false, passphrase)
	if err != nil || !ok {
		return curve.PublicKeyPackage{}, ok, err
	}
	pkp, err := curve.UnmarshalPublicKeyPackage(raw)
	if err != nil {
		return curve.PublicKeyPackage{}, false, fmt.Errorf("storage: decode pubkey package: %w", err)
	}
	return pkp, true, nil
}

// HasPassphrase reports whether a key package already exists for (tag,
// passphrase). The address aggregator's existing-key short-circuit does
// not call it; it queries a node's pubkey endpoint instead.
func (s *Store) HasPassphrase(tag curve.Tag, passphrase string) bool {
	_, ok, err := s.get(tag, true, passphrase)
	return err == nil && ok
}

// FinalizeDKG writes the pubkey package before the key package: that
// ordering makes a crash between the two puts detectable on restart as
// a partial DKG needing a rerun, rather than silently accepted as
// complete.
func (s *Store) FinalizeDKG(tag curve.Tag, passphrase string, kp curve.KeyPackage, pkp curve.PublicKeyPackage) error {
	if err := s.StorePubkeyPackage(tag, passphrase, pkp); err != nil {
		return err
	}
	if err := s.StoreKeyPackage(tag, passphrase, kp); err != nil {
		return err
	}
	return nil
}

// PartialDKG reports whether a pubkey package exists without its matching
// key package — the crash window FinalizeDKG's ordering is designed to
// make detectable.
func (s *Store) PartialDKG(tag curve.Tag, passphrase string) (bool, error) {
	_, pubOK, err := s.get(tag, false, passphrase)
	if err != nil {
		return false, err
	}
	if !pubOK {
		return false, nil
	}
	_, keyOK, err := s.get(tag, true, passphrase)
	if err != nil {
		return false, err
	}
	return !keyOK, nil
}

// ListPassphrases returns every passphrase with a pubkey package on tag,
// for the recover-check administrative command to scan for partial DKGs
// left behind by a crash between FinalizeDKG's two writes.
func (s *Store) ListPassphrases(tag curve.Tag) ([]string, error) {
	_, pubkeysBucket := bucketNames(tag)
	var out []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(pubkeysBucket))
		if b == nil {
			return fmt.Errorf("storage: bucket %s missing", pubkeysBucket)
		}
		const prefix = "pubkeypackage:"
		return b.ForEach(func(k, _ []byte) error {
			if len(k) > len(prefix) {
				out = append(out, string(k[len(prefix):]))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) put(tag curve.Tag, isKeyBucket bool, passphrase string, value []byte, kind string) error {
	keysBucket, pubkeysBucket := bucketNames(tag)
	bucketName := pubkeysBucket
	key := pubkeyPackageKey(passphrase)
	if isKeyBucket {
		bucketName = keysBucket
		key = keyPackageKey(passphrase)
	}

	stored := value
	if s.enc != nil {
		sealed, err := s.enc.Seal(passphrase, value)
		if err != nil {
			return fmt.Errorf("storage: seal %s: %w", kind, err)
		}
		stored = sealed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("storage: bucket %s missing", bucketName)
		}
		existing := b.Get(key)
		if existing != nil && s.log != nil {
			s.log.Warnw("overwriting existing record", "curve", tag, "kind", kind)
		}
		return b.Put(key, stored)
	})
}

func (s *Store) get(tag curve.Tag, isKeyBucket bool, passphrase string) ([]byte, bool, error) {
	keysBucket, pubkeysBucket := bucketNames(tag)
	bucketName := pubkeysBucket
	key := pubkeyPackageKey(passphrase)
	if isKeyBucket {
		bucketName = keysBucket
		key = keyPackageKey(passphrase)
	}

	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("storage: bucket %s missing", bucketName)
		}
		v := b.Get(key)
		if v != nil {
			raw = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	if s.enc != nil {
		opened, err := s.enc.Open(passphrase, raw)
		if err != nil {
			return nil, false, fmt.Errorf("storage: open sealed value: %w", err)
		}
		return opened, true, nil
	}
	return raw, true, nil
}
