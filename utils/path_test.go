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

package utils

import (
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestHomeDirExpand(t *testing.T) {
	Convey("expand ~ dir", t, func() {
		usr, err := user.Current()
		So(err, ShouldBeNil)

		homeDir := HomeDirExpand("~")
		So(homeDir, ShouldEqual, usr.HomeDir)

		fullFilepathWithHome := HomeDirExpand("~/.local")
		So(fullFilepathWithHome, ShouldEqual, filepath.Join(usr.HomeDir, ".local"))

		So(HomeDirExpand("/dev/null"), ShouldEqual, "/dev/null")
		So(HomeDirExpand(""), ShouldEqual, "")
	})
}

func TestResolvePath(t *testing.T) {
	Convey("resolve path against working root", t, func() {
		So(ResolvePath("/var/lib/vericerti", "ledger.db"), ShouldEqual, "/var/lib/vericerti/ledger.db")
		So(ResolvePath("/var/lib/vericerti", "/data/ledger.db"), ShouldEqual, "/data/ledger.db")
		So(ResolvePath("", "ledger.db"), ShouldEqual, "ledger.db")
		So(ResolvePath("/var/lib/vericerti", ""), ShouldEqual, "")
	})
}

func TestEnsureDir(t *testing.T) {
	Convey("ensure dir", t, func() {
		root, err := ioutil.TempDir("", "vericerti-utils")
		So(err, ShouldBeNil)
		defer os.RemoveAll(root)

		dir := filepath.Join(root, "a", "b")
		So(Exist(dir), ShouldBeFalse)
		So(EnsureDir(dir), ShouldBeNil)
		So(Exist(dir), ShouldBeTrue)
		So(EnsureDir(dir), ShouldBeNil)
		So(EnsureDir(""), ShouldBeNil)
		So(Exist("/tmp/anemptypathshouldnotexist"), ShouldBeFalse)
	})
}
