package main

import "testing"

func TestParseParams(t *testing.T) {
	p, err := parseParams("32768,262144,2048,2")
	if err != nil {
		t.Fatalf("parseParams: %v", err)
	}
	if p.MinChunkSize != 32768 || p.MaxChunkSize != 262144 || p.ShiftCount != 2048 || p.BoundaryCheckBytes != 2 {
		t.Fatalf("unexpected params: %+v", p)
	}
}

func TestParseParamsRejectsWrongArity(t *testing.T) {
	if _, err := parseParams("32768,262144,2048"); err == nil {
		t.Fatal("expected an error for too few fields")
	}
	if _, err := parseParams("32768,262144,2048,2,1"); err == nil {
		t.Fatal("expected an error for too many fields")
	}
}

func TestParseParamsRejectsNonInteger(t *testing.T) {
	if _, err := parseParams("abc,262144,2048,2"); err == nil {
		t.Fatal("expected an error for a non-integer field")
	}
}

func TestOpenStoreRejectsEmptyChunkDir(t *testing.T) {
	if _, err := openStore(""); err == nil {
		t.Fatal("expected an error for an empty --chunks value")
	}
}

func TestOpenStoreLocal(t *testing.T) {
	if _, err := openStore(t.TempDir()); err != nil {
		t.Fatalf("openStore on a local directory: %v", err)
	}
}

func TestOpenStoreS3(t *testing.T) {
	// minio.New only validates options and never dials the network, so this
	// exercises the --chunks=s3://... parsing path without needing a server.
	if _, err := openStore("s3://eu-central-1/bucketname/prefix"); err != nil {
		t.Fatalf("openStore on an s3 url: %v", err)
	}
}

func TestParseParamsTrimsWhitespace(t *testing.T) {
	p, err := parseParams(" 32768 , 262144 , 2048 , 2 ")
	if err != nil {
		t.Fatalf("parseParams: %v", err)
	}
	if p.MinChunkSize != 32768 {
		t.Fatalf("expected whitespace to be trimmed, got MinChunkSize=%d", p.MinChunkSize)
	}
}
