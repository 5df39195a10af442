package logging

import (
	"log"
	"os"
)

var (
	Internal = log.New(os.Stdout, "[internal] ", log.LstdFlags)
	HTTP     = log.New(os.Stdout, "[http] ", log.LstdFlags)
	Store    = log.New(os.Stdout, "[store] ", log.LstdFlags)
	Upload   = log.New(os.Stdout, "[upload] ", log.LstdFlags)
	S3       = log.New(os.Stdout, "[s3] ", log.LstdFlags)
)
