package keyring

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/campuskinect/kinect-go/internal/logger"
)

// Keyring is the client's durable credential store, the desktop counterpart
// of the iOS Keychain and the browser's token storage. Tokens are sealed
// with a key derived from the application secret, so the bolt file on disk
// never contains them in the clear.
type Keyring struct {
	db  *bolt.DB
	key [32]byte
}

var (
	ErrNotFound = errors.New("keyring: value not found")

	log = logger.New("keyring")
)

var (
	bucketCredentials = []byte("credentials")
	bucketMeta        = []byte("meta")

	keyAccessToken  = []byte("access_token")
	keyRefreshToken = []byte("refresh_token")
	keyUserID       = []byte("user_id")
	keySalt         = []byte("salt")
)

// Open opens (creating if needed) the keyring file at path. The secret is
// stretched with scrypt against a salt generated on first open and persisted
// alongside the credentials.
func Open(path, secret string) (*Keyring, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("keyring: create directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("keyring: open %s: %w", path, err)
	}

	var salt []byte
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCredentials); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if existing := meta.Get(keySalt); existing != nil {
			salt = append([]byte(nil), existing...)
			return nil
		}
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return err
		}
		return meta.Put(keySalt, salt)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("keyring: initialize: %w", err)
	}

	derived, err := scrypt.Key([]byte(secret), salt, 1<<15, 8, 1, 32)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("keyring: derive key: %w", err)
	}

	k := &Keyring{db: db}
	copy(k.key[:], derived)
	log.Debug("Keyring opened at %s", path)
	return k, nil
}

// Close releases the underlying bolt file.
func (k *Keyring) Close() error {
	return k.db.Close()
}

// SaveTokens persists the access/refresh token pair.
func (k *Keyring) SaveTokens(access, refresh string) error {
	return k.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		if err := b.Put(keyAccessToken, k.seal([]byte(access))); err != nil {
			return err
		}
		return b.Put(keyRefreshToken, k.seal([]byte(refresh)))
	})
}

// Tokens returns the stored token pair. ErrNotFound means the user has no
// session, which callers treat as logged out.
func (k *Keyring) Tokens() (access, refresh string, err error) {
	err = k.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		a, err := k.open(b.Get(keyAccessToken))
		if err != nil {
			return err
		}
		r, err := k.open(b.Get(keyRefreshToken))
		if err != nil {
			return err
		}
		access, refresh = string(a), string(r)
		return nil
	})
	return access, refresh, err
}

// SaveUserID records the authenticated user's id.
func (k *Keyring) SaveUserID(id string) error {
	return k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCredentials).Put(keyUserID, k.seal([]byte(id)))
	})
}

// UserID returns the stored user id.
func (k *Keyring) UserID() (string, error) {
	var id string
	err := k.db.View(func(tx *bolt.Tx) error {
		v, err := k.open(tx.Bucket(bucketCredentials).Get(keyUserID))
		if err != nil {
			return err
		}
		id = string(v)
		return nil
	})
	return id, err
}

// Clear removes every stored credential. Losing these values is equivalent
// to logout.
func (k *Keyring) Clear() error {
	log.Info("Clearing stored credentials")
	return k.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketCredentials); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(bucketCredentials)
		return err
	})
}

func (k *Keyring) seal(plaintext []byte) []byte {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		// rand.Read only fails when the OS entropy source is broken
		panic(err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &k.key)
}

func (k *Keyring) open(sealed []byte) ([]byte, error) {
	if sealed == nil {
		return nil, ErrNotFound
	}
	if len(sealed) < 24 {
		return nil, errors.New("keyring: sealed value too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, &k.key)
	if !ok {
		return nil, errors.New("keyring: cannot unseal value, wrong secret")
	}
	return plaintext, nil
}
