package s3

import "testing"

var parseURLTests = []struct {
	s   string
	url URL
}{
	{"s3://eu-central-1/bucketname", URL{Endpoint: "eu-central-1", Bucket: "bucketname", Prefix: ""}},
	{"s3://eu-central-1/bucketname/", URL{Endpoint: "eu-central-1", Bucket: "bucketname", Prefix: ""}},
	{"s3://eu-central-1/bucketname/prefix/dir", URL{Endpoint: "eu-central-1", Bucket: "bucketname", Prefix: "prefix/dir"}},
	{"s3:http://hostname:9999/bucket", URL{Endpoint: "hostname:9999", Bucket: "bucket", Prefix: "", UseHTTP: true}},
	{"s3:https://hostname:9999/bucket/prefix", URL{Endpoint: "hostname:9999", Bucket: "bucket", Prefix: "prefix", UseHTTP: false}},
}

func TestParseURL(t *testing.T) {
	for _, tt := range parseURLTests {
		t.Run(tt.s, func(t *testing.T) {
			got, err := ParseURL(tt.s)
			if err != nil {
				t.Fatalf("ParseURL(%q): %v", tt.s, err)
			}
			if got != tt.url {
				t.Fatalf("ParseURL(%q) = %+v, want %+v", tt.s, got, tt.url)
			}
		})
	}
}

func TestParseURLRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "local:/path", "s3://", "s3://endpoint-without-bucket"} {
		if _, err := ParseURL(s); err == nil {
			t.Fatalf("ParseURL(%q): expected an error", s)
		}
	}
}
