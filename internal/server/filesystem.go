package server

import (
	"net/http"
	"os"
)

// filesOnly is an http.FileSystem that reports directories as missing, so
// http.FileServer answers 404 instead of rendering a listing of every
// stored avatar or photo.
type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}
