// Package services defines error classification markers and context helpers
// shared by murmur's external collaborators (bot provider, transcription and
// summarization engines) and the pipeline that drives them.
package services
