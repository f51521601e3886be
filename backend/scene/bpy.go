package scene

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// execute_code 片段。宿主只暴露通用的代码执行命令，
// 灯光、相机与材质都以 bpy 脚本下发。

// stagingCode 居中对象并追加灯光与相机
func stagingCode(object string, lights []Light, cam *Camera) string {
	var b strings.Builder
	b.WriteString("import bpy\nfrom mathutils import Vector\n\n")
	writeLookup(&b, object)
	b.WriteString("bpy.context.view_layer.objects.active = obj\n")
	b.WriteString("obj.select_set(True)\n")
	b.WriteString("bpy.ops.object.origin_set(type='ORIGIN_GEOMETRY', center='BOUNDS')\n")
	b.WriteString("obj.location = (0, 0, 0)\n")

	for _, l := range lights {
		fmt.Fprintf(&b, "\nbpy.ops.object.light_add(type='%s', location=%s)\n", l.Type, pyVec(l.Location))
		b.WriteString("light = bpy.context.active_object\n")
		fmt.Fprintf(&b, "light.data.energy = %s\n", pyNum(l.Energy))
		if l.Size > 0 {
			fmt.Fprintf(&b, "light.data.size = %s\n", pyNum(l.Size))
		}
	}

	if cam != nil {
		fmt.Fprintf(&b, "\nbpy.ops.object.camera_add(location=%s)\n", pyVec(cam.Location))
		b.WriteString("camera = bpy.context.active_object\n")
		fmt.Fprintf(&b, "direction = Vector(%s) - camera.location\n", pyVec(cam.LookAt))
		b.WriteString("camera.rotation_euler = direction.to_track_quat('-Z', 'Y').to_euler()\n")
		b.WriteString("bpy.context.scene.camera = camera\n")
	}

	b.WriteString("\nprint(obj.name)\n")
	return b.String()
}

// textureCode 把参考图像写入临时文件并作为 Base Color 贴图绑定
func textureCode(object string, image []byte) string {
	var b strings.Builder
	b.WriteString("import base64\nimport tempfile\nimport bpy\n\n")
	writeLookup(&b, object)
	fmt.Fprintf(&b, "data = base64.b64decode(%s)\n", pyStr(base64.StdEncoding.EncodeToString(image)))
	b.WriteString("with tempfile.NamedTemporaryFile(suffix='.png', delete=False) as f:\n")
	b.WriteString("    f.write(data)\n")
	b.WriteString("img = bpy.data.images.load(f.name)\n")
	b.WriteString("img.pack()\n")
	b.WriteString("mat = bpy.data.materials.new(name=obj.name + '_material')\n")
	b.WriteString("mat.use_nodes = True\n")
	b.WriteString("nodes = mat.node_tree.nodes\n")
	b.WriteString("tex = nodes.new('ShaderNodeTexImage')\n")
	b.WriteString("tex.image = img\n")
	b.WriteString("mat.node_tree.links.new(nodes['Principled BSDF'].inputs['Base Color'], tex.outputs['Color'])\n")
	b.WriteString("if obj.data.materials:\n")
	b.WriteString("    obj.data.materials[0] = mat\n")
	b.WriteString("else:\n")
	b.WriteString("    obj.data.materials.append(mat)\n")
	b.WriteString("print(mat.name)\n")
	return b.String()
}

func writeLookup(b *strings.Builder, object string) {
	name := pyStr(object)
	fmt.Fprintf(b, "obj = bpy.data.objects.get(%s)\n", name)
	b.WriteString("if obj is None:\n")
	fmt.Fprintf(b, "    raise RuntimeError('object not found: ' + %s)\n", name)
}

// pyStr JSON 字符串也是合法的 Python 字符串字面量
func pyStr(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}

func pyNum(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func pyVec(v [3]float64) string {
	return "(" + pyNum(v[0]) + ", " + pyNum(v[1]) + ", " + pyNum(v[2]) + ")"
}
