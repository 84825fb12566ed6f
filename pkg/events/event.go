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

package events

import (
	"time"

	"github.com/google/uuid"
	eventbus "github.com/hyponet/eventbus/bus"

	"github.com/basenana/phenfs/pkg/types"
)

func BuildFolderEvent(actionType string, change types.FolderChange) *types.Event {
	return &types.Event{
		Id:              uuid.New().String(),
		Type:            actionType,
		Source:          folderEventSourceName,
		SpecVersion:     "1.0",
		Time:            time.Now(),
		RefType:         "folder",
		RefID:           change.Pair.String(),
		DataContentType: "application/json",
		Data:            change,
	}
}

// PublishFolderEvent fans the change out asynchronously, subscribers must not
// expect to run inside the flushing call.
func PublishFolderEvent(actionType string, change types.FolderChange) {
	eventbus.Publish(FolderActionTopic(actionType), BuildFolderEvent(actionType, change))
}

func Subscribe(topic string, fn func(evt *types.Event)) string {
	return eventbus.Subscribe(topic, fn)
}

func Unsubscribe(lid string) {
	eventbus.Unsubscribe(lid)
}
