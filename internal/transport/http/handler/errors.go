package handler

const (
	errInternalServer = "Internal server error"
	errTaskNotFound   = "Task not found"
	errBusy           = "Another run is in progress, try again shortly"
)
