// Package recognition measures how far apart the faces in two images are,
// using dlib face descriptors via go-face.
package recognition

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/verifier"
)

// Descriptor is a 128-dimensional face descriptor from dlib.
type Descriptor = face.Descriptor

// Rectangle represents a bounding box.
type Rectangle struct {
	X, Y          int
	Width, Height int
}

// Area returns the box area in pixels.
func (r Rectangle) Area() int {
	return r.Width * r.Height
}

// Face represents a detected face in an image.
type Face struct {
	BoundingBox Rectangle
	Descriptor  Descriptor
}

// ErrNoFaceDetected is returned when no face is found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrMultipleFaces is returned when multiple faces are detected.
var ErrMultipleFaces = errors.New("multiple faces detected")

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// FaceEngine is the part of go-face the comparator uses.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	Close()
}

func newDlibEngine(modelPath string) (FaceEngine, error) {
	return face.NewRecognizer(modelPath)
}

// DlibComparator computes embedding distances between faces.
type DlibComparator struct {
	engine       FaceEngine
	factory      func(modelPath string) (FaceEngine, error)
	modelPath    string
	loaded       bool
	maxImageSize int
	mu           sync.Mutex
}

// NewComparator creates a comparator. Models must be loaded before use.
func NewComparator() *DlibComparator {
	return &DlibComparator{
		factory:      newDlibEngine,
		maxImageSize: verifier.DefaultMaxImageSize,
	}
}

// LoadModels loads the dlib models from modelPath. The directory must hold
// shape_predictor_5_face_landmarks.dat and
// dlib_face_recognition_resnet_model_v1.dat.
func (r *DlibComparator) LoadModels(modelPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return nil
	}

	logging.Infof("Loading face recognition models from: %s", modelPath)

	engine, err := r.factory(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	r.engine = engine
	r.modelPath = modelPath
	r.loaded = true

	logging.Infof("Face recognition models loaded successfully")
	return nil
}

// IsLoaded returns true if models are loaded.
func (r *DlibComparator) IsLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// Close releases the recognizer resources.
func (r *DlibComparator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine != nil {
		r.engine.Close()
		r.engine = nil
	}
	r.loaded = false
	return nil
}

// DetectFaces detects all faces in an image of any supported format.
func (r *DlibComparator) DetectFaces(imageData []byte) ([]Face, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		return nil, ErrModelNotLoaded
	}

	// dlib only decodes JPEG
	jpegData, err := verifier.ResizeImage(imageData, r.maxImageSize)
	if err != nil {
		return nil, err
	}

	// go-face's recognizer is not safe for concurrent use
	faces, err := r.engine.Recognize(jpegData)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	if len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}

	result := make([]Face, len(faces))
	for i, f := range faces {
		rect := f.Rectangle
		result[i] = Face{
			BoundingBox: Rectangle{
				X:      rect.Min.X,
				Y:      rect.Min.Y,
				Width:  rect.Dx(),
				Height: rect.Dy(),
			},
			Descriptor: f.Descriptor,
		}
	}

	logging.Debugf("Detected %d face(s) in image", len(result))
	return result, nil
}

// DetectSingleFace detects exactly one face in the image.
// Returns an error if no face or multiple faces are detected.
func (r *DlibComparator) DetectSingleFace(imageData []byte) (*Face, error) {
	faces, err := r.DetectFaces(imageData)
	if err != nil {
		return nil, err
	}
	if len(faces) > 1 {
		return nil, ErrMultipleFaces
	}
	return &faces[0], nil
}

// primaryFace returns the largest face in the image.
func (r *DlibComparator) primaryFace(imageData []byte) (*Face, error) {
	faces, err := r.DetectFaces(imageData)
	if err != nil {
		return nil, err
	}
	best := 0
	for i := range faces {
		if faces[i].BoundingBox.Area() > faces[best].BoundingBox.Area() {
			best = i
		}
	}
	return &faces[best], nil
}

// Distance returns the Euclidean distance between the largest faces of the
// two images. It returns a nil distance without error when either image has
// no detectable face.
func (r *DlibComparator) Distance(reference, candidate []byte) (*float64, error) {
	ref, err := r.primaryFace(reference)
	if errors.Is(err, ErrNoFaceDetected) {
		logging.Debugf("No face in reference image")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reference image: %w", err)
	}

	cand, err := r.primaryFace(candidate)
	if errors.Is(err, ErrNoFaceDetected) {
		logging.Debugf("No face in captured image")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("captured image: %w", err)
	}

	d := EuclideanDistance(ref.Descriptor, cand.Descriptor)
	return &d, nil
}

// EuclideanDistance calculates the Euclidean distance between two descriptors.
func EuclideanDistance(d1, d2 Descriptor) float64 {
	if len(d1) != len(d2) {
		return math.MaxFloat64
	}

	var sum float64
	for i := range d1 {
		diff := float64(d1[i] - d2[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
