package stream

import "time"

func SetBackoff(c *Consumer, d time.Duration) {
	c.backoff = d
}
