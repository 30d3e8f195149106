// Package workers holds the work functions behind each task queue.
//
// The functions here are reference implementations that let a project run end
// to end: retrieval and writing delegate to the Retriever and Writer
// interfaces so real backends can be plugged in, while verification, autofix
// and assembly are self-contained. Register binds a Set to a job runner.
package workers
