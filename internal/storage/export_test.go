package storage

// SetupMySQL lets storage_test run the services against a containerized store
var SetupMySQL = setupMySQL
