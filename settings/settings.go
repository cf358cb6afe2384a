// Package settings persists user preferences in a bbolt file.
package settings

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"go.etcd.io/bbolt"
)

const (
	keyUseCustomURL  = "use_custom_url"
	keyCustomURL     = "custom_url"
	keyUseBulletChat = "use_bullet_chat"
)

var bucket = []byte("preferences")

// IStore is the preference store. Readers return the zero value on error.
type IStore interface {
	UseCustomURL() bool
	SetUseCustomURL(v bool) error

	CustomURL() string
	SetCustomURL(url string) error

	UseBulletChat() bool
	SetUseBulletChat(v bool) error

	// PlaybackURL returns the custom url if enabled and set, otherwise def.
	PlaybackURL(def string) string

	Close() error
}

type store struct {
	db *bbolt.DB
}

// Open opens or creates the preference file at path.
func Open(path string) (*store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open settings %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &store{db: db}, nil
}

func (s *store) get(key string) (string, bool) {
	var v []byte
	if err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucket).Get([]byte(key)); b != nil {
			v = append([]byte(nil), b...)
		}
		return nil
	}); err != nil {
		glog.Errorf("settings: get %s error: %v", key, err)
		return "", false
	}
	return string(v), v != nil
}

func (s *store) put(key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), []byte(value))
	})
}

func (s *store) getBool(key string) bool {
	v, ok := s.get(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		glog.Errorf("settings: bad bool %s=%q", key, v)
		return false
	}
	return b
}

func (s *store) UseCustomURL() bool {
	return s.getBool(keyUseCustomURL)
}

func (s *store) SetUseCustomURL(v bool) error {
	return s.put(keyUseCustomURL, strconv.FormatBool(v))
}

func (s *store) CustomURL() string {
	v, _ := s.get(keyCustomURL)
	return v
}

func (s *store) SetCustomURL(url string) error {
	return s.put(keyCustomURL, url)
}

func (s *store) UseBulletChat() bool {
	return s.getBool(keyUseBulletChat)
}

func (s *store) SetUseBulletChat(v bool) error {
	return s.put(keyUseBulletChat, strconv.FormatBool(v))
}

func (s *store) PlaybackURL(def string) string {
	if s.UseCustomURL() {
		if url := s.CustomURL(); url != "" {
			return url
		}
	}
	return def
}

func (s *store) Close() error {
	return s.db.Close()
}

// ApplyPlayback handles a playback command argument: "on" or "off" toggles
// the custom url, anything else is saved as the custom url and enables it.
func ApplyPlayback(s IStore, arg string) error {
	switch arg = strings.TrimSpace(arg); arg {
	case "on":
		return s.SetUseCustomURL(true)
	case "off":
		return s.SetUseCustomURL(false)
	case "":
		return fmt.Errorf("empty playback argument")
	}

	u, err := url.Parse(arg)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid playback url `%s`", arg)
	}
	if err := s.SetCustomURL(arg); err != nil {
		return err
	}
	return s.SetUseCustomURL(true)
}
