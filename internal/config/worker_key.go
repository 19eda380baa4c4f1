package config

type WorkerKeyStruct struct {
	ViolationIngestQueue string
}

var WorkerKey = &WorkerKeyStruct{
	ViolationIngestQueue: "violation_ingest_queue",
}
