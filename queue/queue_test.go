/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package queue

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	. "github.com/smartystreets/goconvey/convey"
)

type backend struct {
	name string
	open func() (Queue, func())
}

func backends(c C) []backend {
	return []backend{
		{
			name: "memory",
			open: func() (Queue, func()) {
				return NewMemoryQueue(), func() {}
			},
		},
		{
			name: "leveldb",
			open: func() (Queue, func()) {
				dir, err := ioutil.TempDir("", "vericerti-queue")
				c.So(err, ShouldBeNil)
				q, err := NewLevelDBQueue(filepath.Join(dir, "queue"))
				c.So(err, ShouldBeNil)
				return q, func() {
					_ = q.Close()
					_ = os.RemoveAll(dir)
				}
			},
		},
		{
			name: "redis",
			open: func() (Queue, func()) {
				s, err := miniredis.Run()
				c.So(err, ShouldBeNil)
				client := redis.NewClient(&redis.Options{Addr: s.Addr()})
				return NewRedisQueue(client, ""), func() {
					_ = client.Close()
					s.Close()
				}
			},
		},
	}
}

func sorted(s []string) []string {
	sort.Strings(s)
	return s
}

func TestQueueBackends(t *testing.T) {
	Convey("queue backends share set semantics", t, func(c C) {
		ctx := context.Background()
		for _, b := range backends(c) {
			q, cleanup := b.open()
			Convey(b.name, func() {
				So(q.Add(ctx, "1:0xaa:0"), ShouldBeNil)
				So(q.Add(ctx, "1:0xaa:0"), ShouldBeNil)
				So(q.Add(ctx, "12:0xbb:1"), ShouldBeNil)
				So(q.Add(ctx, "2:0xcc:2"), ShouldBeNil)

				n, err := q.Len(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 3)

				members, err := q.Members(ctx)
				So(err, ShouldBeNil)
				So(sorted(members), ShouldResemble, []string{"12:0xbb:1", "1:0xaa:0", "2:0xcc:2"})

				found, err := q.FindPrefix(ctx, "1:")
				So(err, ShouldBeNil)
				So(found, ShouldResemble, []string{"1:0xaa:0"})

				found, err = q.FindPrefix(ctx, "3:")
				So(err, ShouldBeNil)
				So(found, ShouldBeEmpty)

				So(q.Remove(ctx, "1:0xaa:0"), ShouldBeNil)
				So(q.Remove(ctx, "1:0xaa:0"), ShouldBeNil)
				found, err = q.FindPrefix(ctx, "1:")
				So(err, ShouldBeNil)
				So(found, ShouldBeEmpty)

				So(q.Close(), ShouldBeNil)
				So(q.Add(ctx, "3:0xdd:0"), ShouldEqual, ErrClosed)
				_, err = q.Members(ctx)
				So(err, ShouldEqual, ErrClosed)
			})
			cleanup()
		}
	})
}

func TestLevelDBQueueDurability(t *testing.T) {
	Convey("leveldb queue survives reopen", t, func() {
		dir, err := ioutil.TempDir("", "vericerti-queue")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)
		path := filepath.Join(dir, "queue")
		ctx := context.Background()

		q, err := NewLevelDBQueue(path)
		So(err, ShouldBeNil)
		So(q.Add(ctx, "5:0xee:1"), ShouldBeNil)
		So(q.Close(), ShouldBeNil)
		So(q.Close(), ShouldBeNil)

		q, err = NewLevelDBQueue(path)
		So(err, ShouldBeNil)
		defer q.Close()
		members, err := q.Members(ctx)
		So(err, ShouldBeNil)
		So(members, ShouldResemble, []string{"5:0xee:1"})

		Convey("canceled context is refused", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			So(q.Add(cctx, "6:0xff:0"), ShouldEqual, context.Canceled)
		})
	})
}

func TestRedisQueueKey(t *testing.T) {
	Convey("redis queue writes the shared set", t, func() {
		s, err := miniredis.Run()
		So(err, ShouldBeNil)
		defer s.Close()
		client := redis.NewClient(&redis.Options{Addr: s.Addr()})
		defer client.Close()

		_, err = s.SetAdd(DefaultRedisKey, "9:0x99:0")
		So(err, ShouldBeNil)

		q := NewRedisQueue(client, "")
		found, err := q.FindPrefix(context.Background(), "9:")
		So(err, ShouldBeNil)
		So(found, ShouldResemble, []string{"9:0x99:0"})

		So(q.Add(context.Background(), "10:0x10:0"), ShouldBeNil)
		members, err := s.Members(DefaultRedisKey)
		So(err, ShouldBeNil)
		So(sorted(members), ShouldResemble, []string{"10:0x10:0", "9:0x99:0"})

		Convey("large sets are scanned without duplicates", func() {
			for i := 0; i < 500; i++ {
				_, err := s.SetAdd(DefaultRedisKey, fmt.Sprintf("7:0x%04x:0", i), fmt.Sprintf("70:0x%04x:0", i))
				So(err, ShouldBeNil)
			}
			found, err := q.FindPrefix(context.Background(), "7:")
			So(err, ShouldBeNil)
			So(found, ShouldHaveLength, 500)
			seen := make(map[string]bool, len(found))
			for _, m := range found {
				So(seen[m], ShouldBeFalse)
				seen[m] = true
			}
		})

		Convey("unreachable redis surfaces errors", func() {
			s.Close()
			_, err := q.Members(context.Background())
			So(err, ShouldNotBeNil)
		})
	})
}
