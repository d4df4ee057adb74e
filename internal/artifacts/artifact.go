package artifacts

import (
	"bytes"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	apperrors "ccsml/internal/errors"
)

// Kind tags the concrete type inside an envelope.
type Kind string

const (
	KindScaler      Kind = "scaler"
	KindImputer     Kind = "imputer"
	KindPartitioner Kind = "cluster-partitioner"
	KindModel       Kind = "model"
	KindFeatureSet  Kind = "feature-set"
	KindLambdaMap   Kind = "lambda-map"
)

// Logical keys written by a training run.
const (
	KeyScaler      = "scaler"
	KeyImputer     = "imputer"
	KeyPartitioner = "cluster-partitioner"
	KeyContinuous  = "features/continuous"
	KeyDiscrete    = "features/discrete"
	KeyNormal      = "features/normal"
	KeyLambdas     = "features/boxcox-lambdas"
	KeyLog         = "features/log"
	KeyDropped     = "features/dropped"

	modelKeyPrefix = "model/"
)

// ModelKey is the key of the regressor trained for one cluster.
func ModelKey(clusterID int) string {
	return modelKeyPrefix + strconv.Itoa(clusterID)
}

// Artifact is any value the store can persist. Implementations must be gob
// encodable and registered with Register.
type Artifact interface {
	Kind() Kind
}

// Factory returns a zero value to decode into. It must return a pointer.
type Factory func() Artifact

var (
	registryMu sync.RWMutex
	registry   = map[Kind]Factory{}
)

// Register binds a kind to its factory. Registering a kind twice panics.
func Register(kind Kind, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("artifacts: kind %q registered twice", kind))
	}
	registry[kind] = factory
}

func factoryFor(kind Kind) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[kind]
	return f, ok
}

// Envelope is the persisted form of one artifact.
type Envelope struct {
	Kind      Kind
	Key       string
	Blob      []byte
	Checksum  string
	CreatedAt time.Time
}

// Checksum returns the hex blake2b-256 digest of blob.
func Checksum(blob []byte) string {
	sum := blake2b.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

// Encode serializes an artifact into an envelope.
func Encode(key string, a Artifact) (*Envelope, error) {
	if a == nil {
		return nil, apperrors.NewStorageError(fmt.Sprintf("encode %q", key), fmt.Errorf("nil artifact"))
	}
	if _, ok := factoryFor(a.Kind()); !ok {
		return nil, apperrors.NewStorageError(fmt.Sprintf("encode %q", key), fmt.Errorf("kind %q is not registered", a.Kind()))
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a); err != nil {
		return nil, apperrors.NewStorageError(fmt.Sprintf("encode %q", key), err)
	}
	blob := buf.Bytes()
	return &Envelope{
		Kind:      a.Kind(),
		Key:       key,
		Blob:      blob,
		Checksum:  Checksum(blob),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Decode verifies the checksum and rebuilds the artifact through its kind's factory.
func Decode(env *Envelope) (Artifact, error) {
	if got := Checksum(env.Blob); got != env.Checksum {
		return nil, apperrors.NewStorageError(fmt.Sprintf("decode %q", env.Key),
			fmt.Errorf("checksum mismatch: got %s, want %s", got, env.Checksum))
	}
	factory, ok := factoryFor(env.Kind)
	if !ok {
		return nil, apperrors.NewStorageError(fmt.Sprintf("decode %q", env.Key), fmt.Errorf("kind %q is not registered", env.Kind))
	}
	a := factory()
	if err := gob.NewDecoder(bytes.NewReader(env.Blob)).Decode(a); err != nil {
		return nil, apperrors.NewStorageError(fmt.Sprintf("decode %q", env.Key), err)
	}
	return a, nil
}

// FeatureSet is a persisted list of column names.
type FeatureSet struct {
	Names []string
}

func (*FeatureSet) Kind() Kind { return KindFeatureSet }

// Contains reports whether name is in the set.
func (f *FeatureSet) Contains(name string) bool {
	for _, n := range f.Names {
		if n == name {
			return true
		}
	}
	return false
}

// LambdaMap is the persisted Box-Cox lambda per column.
type LambdaMap struct {
	Lambdas map[string]float64
}

func (*LambdaMap) Kind() Kind { return KindLambdaMap }

func init() {
	Register(KindFeatureSet, func() Artifact { return &FeatureSet{} })
	Register(KindLambdaMap, func() Artifact { return &LambdaMap{} })
}
