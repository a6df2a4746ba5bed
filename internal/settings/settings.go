// Package settings はアプリケーション設定のスナップショットを読み書きします。
package settings

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// 既定のテーマ（Matrix Green）
var Defaults = map[string]string{
	"theme_primary_color":    "#00ff00",
	"theme_secondary_color":  "#00cc00",
	"theme_background_color": "#1a1a1a",
	"theme_card_background":  "#2a2a2a",
	"theme_border_color":     "#00ff00",
	"theme_text_color":       "#00ff00",
	"theme_error_color":      "#ff0000",
	"theme_success_color":    "#00ff00",
	"theme_warning_color":    "#ffff00",
	"theme_name":             "Matrix Green",
}

const (
	maxKeyLength   = 64
	maxValueLength = 512
)

var (
	// ErrInvalid は保存しようとした値が不正であることを示します。
	ErrInvalid = errors.New("invalid setting")

	hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	keyChars = regexp.MustCompile(`^[a-z0-9_]+$`)
)

// Store は設定の永続化操作です。
type Store interface {
	ListSettings(ctx context.Context) (map[string]string, error)
	SetSettings(ctx context.Context, values map[string]string) error
	SeedSettings(ctx context.Context, defaults map[string]string) error
}

// Snapshot はある時点の設定値です。読み取り専用として扱います。
type Snapshot struct {
	values map[string]string
}

// NewSnapshot は values のコピーからスナップショットを作ります。
func NewSnapshot(values map[string]string) Snapshot {
	return Snapshot{values: maps.Clone(values)}
}

// Get は設定値を返します。
func (s Snapshot) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Values は設定値のコピーを返します。
func (s Snapshot) Values() map[string]string {
	if s.values == nil {
		return map[string]string{}
	}
	return maps.Clone(s.values)
}

// Keys はキーを辞書順で返します。
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Theme はクライアントに適用するテーマです。
type Theme struct {
	Name            string `json:"name"`
	PrimaryColor    string `json:"primaryColor"`
	SecondaryColor  string `json:"secondaryColor"`
	BackgroundColor string `json:"backgroundColor"`
	CardBackground  string `json:"cardBackground"`
	BorderColor     string `json:"borderColor"`
	TextColor       string `json:"textColor"`
	ErrorColor      string `json:"errorColor"`
	SuccessColor    string `json:"successColor"`
	WarningColor    string `json:"warningColor"`
}

// Theme はスナップショットからテーマを組み立てます。未設定の項目は既定値です。
func (s Snapshot) Theme() Theme {
	get := func(key string) string {
		if v, ok := s.values[key]; ok && v != "" {
			return v
		}
		return Defaults[key]
	}
	return Theme{
		Name:            get("theme_name"),
		PrimaryColor:    get("theme_primary_color"),
		SecondaryColor:  get("theme_secondary_color"),
		BackgroundColor: get("theme_background_color"),
		CardBackground:  get("theme_card_background"),
		BorderColor:     get("theme_border_color"),
		TextColor:       get("theme_text_color"),
		ErrorColor:      get("theme_error_color"),
		SuccessColor:    get("theme_success_color"),
		WarningColor:    get("theme_warning_color"),
	}
}

// Service は起動時に読み込み、保存時に書き戻す設定の窓口です。
type Service struct {
	store Store

	mu      sync.RWMutex
	current Snapshot
}

// NewService は Service を作成します。Load を呼ぶまでスナップショットは空です。
func NewService(store Store) *Service {
	return &Service{store: store, current: NewSnapshot(nil)}
}

// Seed は既定値のうち未登録のものだけを書き込みます。
func (s *Service) Seed(ctx context.Context, defaults map[string]string) error {
	if err := s.store.SeedSettings(ctx, defaults); err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	return nil
}

// Load はストアから読み直して現在のスナップショットを置き換えます。
func (s *Service) Load(ctx context.Context) (Snapshot, error) {
	values, err := s.store.ListSettings(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load settings: %w", err)
	}
	snap := NewSnapshot(values)
	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()
	return snap, nil
}

// Current は最後に読み込んだスナップショットを返します。
func (s *Service) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Save は values を検証して一括で書き込み、新しいスナップショットを返します。
// 1件でも不正な値があれば何も書き込みません。
func (s *Service) Save(ctx context.Context, values map[string]string) (Snapshot, error) {
	if len(values) == 0 {
		return Snapshot{}, fmt.Errorf("%w: no settings given", ErrInvalid)
	}
	cleaned := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if err := Validate(key, value); err != nil {
			return Snapshot{}, err
		}
		cleaned[key] = value
	}
	if err := s.store.SetSettings(ctx, cleaned); err != nil {
		return Snapshot{}, fmt.Errorf("save settings: %w", err)
	}
	return s.Load(ctx)
}

// Validate は1件の設定を検証します。色を表すキーは #rgb / #rrggbb のみ受け付けます。
func Validate(key, value string) error {
	if key == "" || len(key) > maxKeyLength || !keyChars.MatchString(key) {
		return fmt.Errorf("%w: key %q", ErrInvalid, key)
	}
	if len(value) > maxValueLength {
		return fmt.Errorf("%w: value of %s is too long", ErrInvalid, key)
	}
	if isColorKey(key) && !hexColor.MatchString(value) {
		return fmt.Errorf("%w: %s must be a hex color like #00ff00", ErrInvalid, key)
	}
	return nil
}

func isColorKey(key string) bool {
	return strings.HasSuffix(key, "_color") || key == "theme_card_background"
}
