package types

// Version is the project version shared by every component (CLI, emit
// contract, IPC contract) under the lockstep versioning policy.
const Version = "0.6.1"
