// Package testutil provides test helpers for mailsift tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertStrings, etc.)
//   - store_helpers.go: database test setup (NewTestStore)
//   - builders.go: test data builders (NewEmail)
//   - fs_helpers.go: filesystem operations (WriteFile, MustExist)
//   - archive_helpers.go: archive creation (CreateTarGz)
//   - encoding.go: encoding test vectors (EncodedSamples)
package testutil
