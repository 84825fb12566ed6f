/*
 Copyright 2023 NanaFS Authors.

 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package apis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/basenana/phenfs/cmd/apps/apis/apitool"
	"github.com/basenana/phenfs/pkg/types"
)

type chainResponse struct {
	Status int            `json:"status"`
	Error  *apitool.Error `json:"error,omitempty"`
	Data   *ChainInfo     `json:"data,omitempty"`
}

type flushResponse struct {
	Status int            `json:"status"`
	Data   *FlushResponse `json:"data,omitempty"`
}

type pendingResponse struct {
	Status int              `json:"status"`
	Data   *PendingResponse `json:"data,omitempty"`
}

func doRequest(method, target string, out interface{}) int {
	req, err := http.NewRequest(method, target, nil)
	Expect(err).Should(BeNil())
	w := httptest.NewRecorder()
	testServer.Handler().ServeHTTP(w, req)
	if out != nil {
		Expect(json.Unmarshal(w.Body.Bytes(), out)).Should(BeNil())
	}
	return w.Code
}

func resolveURL(p string) string {
	return "/v1/resolve?" + url.Values{"path": []string{p}}.Encode()
}

var _ = Describe("TestAdminApi", func() {
	It("ping and metrics should answer", func() {
		Expect(doRequest(http.MethodGet, "/_ping", nil)).Should(Equal(http.StatusOK))
		Expect(doRequest(http.MethodGet, "/metrics", nil)).Should(Equal(http.StatusOK))
	})

	It("resolve should report the chain", func() {
		root, err := testSession.Root(context.TODO())
		Expect(err).Should(BeNil())
		Expect(root.AddFile(context.TODO(), types.NewMetadata("a.txt", types.FileKind, "f1", testSession.Identity()))).Should(BeNil())

		resp := &chainResponse{}
		Expect(doRequest(http.MethodGet, resolveURL("a.txt"), resp)).Should(Equal(http.StatusOK))
		Expect(resp.Data.Path).Should(Equal("/" + testSession.Identity().String() + "/a.txt"))
		Expect(resp.Data.Nodes).Should(HaveLen(2))
		Expect(resp.Data.Nodes[0].Folder).Should(Equal(root.FidPair().String()))
		Expect(resp.Data.Nodes[1].Fid).Should(Equal("f1"))
		Expect(resp.Data.Nodes[1].Kind).Should(Equal(string(types.FileKind)))
	})

	It("resolve errors should map to http status", func() {
		resp := &chainResponse{}
		Expect(doRequest(http.MethodGet, "/v1/resolve", resp)).Should(Equal(http.StatusBadRequest))
		Expect(resp.Error.Code).Should(Equal(apitool.ApiArgsError))

		resp = &chainResponse{}
		Expect(doRequest(http.MethodGet, resolveURL("missing.txt"), resp)).Should(Equal(http.StatusNotFound))
		Expect(resp.Error.Code).Should(Equal(apitool.ApiNotFoundError))

		Expect(doRequest(http.MethodGet, resolveURL("a.txt")+"&levels=-1", nil)).Should(Equal(http.StatusBadRequest))
	})

	It("flush should drain pending folders", func() {
		root, err := testSession.Root(context.TODO())
		Expect(err).Should(BeNil())
		Expect(root.AddFile(context.TODO(), types.NewMetadata("b.txt", types.FileKind, "f2", testSession.Identity()))).Should(BeNil())

		pending := &pendingResponse{}
		Expect(doRequest(http.MethodGet, "/v1/pending", pending)).Should(Equal(http.StatusOK))
		Expect(pending.Data.Folders).Should(ContainElement(root.FidPair().String()))

		flushed := &flushResponse{}
		Expect(doRequest(http.MethodPost, "/v1/flush", flushed)).Should(Equal(http.StatusOK))
		Expect(flushed.Data.Flushed).Should(BeNumerically(">=", 1))
		Expect(root.Dirty()).Should(BeFalse())

		pending = &pendingResponse{}
		Expect(doRequest(http.MethodGet, "/v1/pending", pending)).Should(Equal(http.StatusOK))
		Expect(pending.Data.Folders).Should(BeEmpty())
	})
})
