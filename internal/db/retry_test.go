package db

import (
	"errors"
	"fmt"
	"testing"

	"go.mongodb.org/mongo-driver/mongo"
)

// duplicateKeyError builds an error IsMongoDuplicateKeyError recognises.
func duplicateKeyError(key string) error {
	return mongo.WriteException{WriteErrors: []mongo.WriteError{{
		Code:    11000,
		Message: fmt.Sprintf("E11000 duplicate key error collection: test.counter_offers dup key: { : %q }", key),
	}}}
}

func TestWithRetries_SuccessfulFirstAttempt(t *testing.T) {
	var opCalled int
	err := WithRetries(func() error {
		opCalled++
		return nil
	}, 3, IsMongoDuplicateKeyError)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if opCalled != 1 {
		t.Errorf("Expected operation to be called 1 time, got %d", opCalled)
	}
}

func TestWithRetries_NonRetryableFailsImmediately(t *testing.T) {
	var opCalled int
	expectedErr := errors.New("network down")
	err := WithRetries(func() error {
		opCalled++
		return expectedErr
	}, 3, IsMongoDuplicateKeyError)
	if !errors.Is(err, expectedErr) {
		t.Errorf("Expected error %v, got %v", expectedErr, err)
	}
	if opCalled != 1 {
		t.Errorf("Expected operation to be called 1 time, got %d", opCalled)
	}
}

func TestWithRetries_ExhaustRetries(t *testing.T) {
	var opCalled int
	maxRetries := 3
	err := WithRetries(func() error {
		opCalled++
		return duplicateKeyError("pending")
	}, maxRetries, IsMongoDuplicateKeyError)

	if err == nil {
		t.Fatal("Expected a duplicate key error, got nil")
	}
	if !IsMongoDuplicateKeyError(err) {
		t.Errorf("Expected a Mongo duplicate key error, got %T: %v", err, err)
	}
	if opCalled != maxRetries+1 {
		t.Errorf("Expected operation to be called %d times, got %d", maxRetries+1, opCalled)
	}
}

func TestWithRetries_CollisionResolves(t *testing.T) {
	var opCalled int
	err := WithRetries(func() error {
		opCalled++
		if opCalled < 3 {
			return duplicateKeyError("pending")
		}
		return nil
	}, 3, IsMongoDuplicateKeyError)

	if err != nil {
		t.Fatalf("Expected collision to resolve, got: %v", err)
	}
	if opCalled != 3 {
		t.Errorf("Expected operation to be called 3 times, got %d", opCalled)
	}
}

func TestIsMongoDuplicateKeyError(t *testing.T) {
	if IsMongoDuplicateKeyError(errors.New("plain")) {
		t.Error("plain error must not classify as duplicate key")
	}
	other := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 2}}}
	if IsMongoDuplicateKeyError(other) {
		t.Error("non-11000 write error must not classify as duplicate key")
	}
	if !IsMongoDuplicateKeyError(duplicateKeyError("x")) {
		t.Error("11000 write error must classify as duplicate key")
	}
	bulk := mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{{WriteError: mongo.WriteError{Code: 11000}}}}
	if !IsMongoDuplicateKeyError(bulk) {
		t.Error("bulk 11000 must classify as duplicate key")
	}
}
