// Package types provides core types used across the ragchat service.
// This package has ZERO dependencies on other ragchat packages to avoid
// circular imports. All other packages should import types from here.
package types
