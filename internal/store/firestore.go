package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// FirestoreOptions selects the Firebase project and its credentials. When no
// credentials are given the application default credentials are used.
type FirestoreOptions struct {
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
}

// NewFirestore initialises a Firebase app and returns its Firestore client.
// The caller owns the client and must Close it on shutdown.
func NewFirestore(ctx context.Context, opts FirestoreOptions) (*firestore.Client, error) {
	var clientOpts []option.ClientOption
	switch {
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	case opts.CredentialsJSON != "":
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(opts.CredentialsJSON)))
	}

	var conf *firebase.Config
	if opts.ProjectID != "" {
		conf = &firebase.Config{ProjectID: opts.ProjectID}
	}
	app, err := firebase.NewApp(ctx, conf, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return client, nil
}
