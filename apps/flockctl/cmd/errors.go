package cmd

import (
	"log"

	"github.com/flockml/flock/pkg/fsdk"
)

// exitIfAPIError inspects errors returned from the SDK and emits
// user-friendly guidance before exiting. Non-API errors fall back to
// log.Fatalf.
func exitIfAPIError(err error) {
	if err == nil {
		return
	}
	if fsdk.Unauthorized(err) {
		log.Fatalf("authentication required: run 'flockctl login' (%v)", err)
	}
	log.Fatalf("%v", err)
}
