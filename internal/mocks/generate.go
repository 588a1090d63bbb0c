// Package mocks provides gomock implementations of the auth ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	store := mocks.NewMockProfileStore(ctrl)
//	store.EXPECT().Fetch(gomock.Any(), "user-1").Return(profile, nil)
package mocks

// Generate mock for ProfileStore interface from internal/ports package.
// This creates MockProfileStore with methods: Fetch, Create, Update
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=profile_store_mock.go github.com/astracore/astracore/internal/ports ProfileStore

// Generate mock for AuthProvider interface from internal/ports package.
// This creates MockAuthProvider with methods: Restore, SignIn, SignOut, ResetPassword
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=auth_provider_mock.go github.com/astracore/astracore/internal/ports AuthProvider
