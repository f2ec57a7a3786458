package config

type WorkerKeyStruct struct {
	PersistAutosaveQueue string
	ScoreAttemptQueue    string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAutosaveQueue: "persist_autosave_queue",
	ScoreAttemptQueue:    "score_attempt_queue",
}
