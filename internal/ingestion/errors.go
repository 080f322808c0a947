package ingestion

import "errors"

var (
	// ErrInitialFetchExhausted is returned by RunCycle when the first page of
	// a cycle timed out on every attempt. It is fatal to the process.
	ErrInitialFetchExhausted = errors.New("initial fetch timed out on every attempt")

	// ErrStorageRequired is returned when no state storage is provided.
	ErrStorageRequired = errors.New("storage required")

	// ErrSearcherRequired is returned when no question searcher is provided.
	ErrSearcherRequired = errors.New("question searcher required")

	// ErrAssemblerRequired is returned when no batch assembler is provided.
	ErrAssemblerRequired = errors.New("batch assembler required")

	// ErrSinkRequired is returned when no output sink is provided.
	ErrSinkRequired = errors.New("output sink required")

	// ErrQuotaTrackerRequired is returned when no quota tracker is provided.
	ErrQuotaTrackerRequired = errors.New("quota tracker required")
)
