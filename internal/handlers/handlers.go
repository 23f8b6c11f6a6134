// Package handlers serves the dashboard's JSON views: machines, images,
// detection settings, detection results and the signed-in user.
package handlers

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gorilla/sessions"
	"github.com/h2non/bimg"
	"github.com/petermazzocco/particle-monitor/internal/auth"
	"github.com/petermazzocco/particle-monitor/internal/ingest"
	"github.com/petermazzocco/particle-monitor/internal/store"
)

// ObjectGetter is the part of *s3.Client the file handler needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ResultsSource is the detection service's read API; *ingest.Client.
type ResultsSource interface {
	ListMachineImages(ctx context.Context, machineID string) ([]ingest.ResultRecord, error)
	Summary(ctx context.Context) (*ingest.Summary, error)
}

type Config struct {
	Store    *store.Store
	Auth     *auth.Service
	Sessions sessions.Store
	Objects  ObjectGetter
	Bucket   string
	Results  ResultsSource
	// SignInRedirect is where the OAuth callback sends the browser.
	SignInRedirect string
}

type Handler struct {
	store          *store.Store
	auth           *auth.Service
	sessions       sessions.Store
	objects        ObjectGetter
	bucket         string
	results        ResultsSource
	signInRedirect string

	resize func(data []byte, width int) ([]byte, error)
}

func New(cfg Config) *Handler {
	h := &Handler{
		store:          cfg.Store,
		auth:           cfg.Auth,
		sessions:       cfg.Sessions,
		objects:        cfg.Objects,
		bucket:         cfg.Bucket,
		results:        cfg.Results,
		signInRedirect: cfg.SignInRedirect,
		resize:         resizeImage,
	}
	if h.signInRedirect == "" {
		h.signInRedirect = "/"
	}
	return h
}

// resizeImage scales to width, keeping the aspect ratio and the format.
func resizeImage(data []byte, width int) ([]byte, error) {
	return bimg.NewImage(data).Process(bimg.Options{Width: width})
}
