package store

type ObjectClient = objectClient

func NewS3WithClient(client objectClient, bucket, prefix string) *S3 {
	return &S3{client: client, Bucket: bucket, Prefix: prefix}
}
